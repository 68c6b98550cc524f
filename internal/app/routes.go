package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Budgets
	r.HandleFunc("/api/budget", deps.BudgetHandler.GetAll).Methods("GET")
	r.HandleFunc("/api/budget", deps.BudgetHandler.Register).Methods("POST")
	r.HandleFunc("/api/budget/{name}", deps.BudgetHandler.Update).Methods("PUT")
	r.HandleFunc("/api/budget/{name}", deps.BudgetHandler.Delete).Methods("DELETE")

	// Transactions
	r.HandleFunc("/api/transaction", deps.TransactionHandler.List).Methods("GET")
	r.HandleFunc("/api/transaction", deps.TransactionHandler.Create).Methods("POST")
	r.HandleFunc("/api/transaction/{id:[0-9]+}", deps.TransactionHandler.Get).Methods("GET")
	r.HandleFunc("/api/transaction/{id:[0-9]+}", deps.TransactionHandler.Update).Methods("PUT")
	r.HandleFunc("/api/transaction/{id:[0-9]+}", deps.TransactionHandler.Delete).Methods("DELETE")
	r.HandleFunc("/api/transaction/{id:[0-9]+}/receipt", deps.TransactionHandler.Receipt).Methods("GET")
	r.HandleFunc("/api/transaction/{id:[0-9]+}/receipt", deps.TransactionHandler.AttachReceipt).Methods("PUT")

	// Import / export
	r.HandleFunc("/api/export", deps.JobHandler.Export).Methods("POST")
	r.HandleFunc("/api/import", deps.JobHandler.Import).Methods("POST")
	r.HandleFunc("/api/job", deps.JobHandler.List).Methods("GET")
	r.HandleFunc("/api/job/{id}", deps.JobHandler.Get).Methods("GET")
	r.HandleFunc("/api/job/{id}", deps.JobHandler.Cancel).Methods("DELETE")
	r.HandleFunc("/api/job/{id}/file", deps.JobHandler.File).Methods("GET")
}
