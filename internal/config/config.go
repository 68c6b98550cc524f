package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const DefaultPath = "./config/application.yaml"

const envPrefix = "BUDGETWATCH_"

type Application struct {
	Listen   string   `koanf:"listen"`
	Log      Log      `koanf:"log"`
	Database Database `koanf:"db"`
	Receipts Receipts `koanf:"receipts"`
	Transfer Transfer `koanf:"transfer"`
}

type Log struct {
	Level string `koanf:"level"`
}

type Database struct {
	// Driver is either "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

type Receipts struct {
	Dir string `koanf:"dir"`
}

type Transfer struct {
	// Dir holds finished export files and spooled import uploads.
	Dir              string        `koanf:"dir"`
	ProgressInterval time.Duration `koanf:"progressinterval"`
}

func Defaults() Application {
	return Application{
		Listen: ":8181",
		Log:    Log{Level: "info"},
		Database: Database{
			Driver: "sqlite",
			Path:   "./data/budgetwatch.db",
			Host:   "localhost",
			Port:   5432,
			User:   "budgetwatch",
			Name:   "budgetwatch",
			Schema: "budgetwatch",
		},
		Receipts: Receipts{Dir: "./data/receipts"},
		Transfer: Transfer{
			Dir:              "./data/transfers",
			ProgressInterval: 250 * time.Millisecond,
		},
	}
}

func Load(path string) (Application, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("could not load .env file: %v", err)
	}

	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.UnmarshalWithConf("", &app, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Application{}, err
	}
	if app.Transfer.ProgressInterval <= 0 {
		app.Transfer.ProgressInterval = Defaults().Transfer.ProgressInterval
	}

	return app, nil
}
