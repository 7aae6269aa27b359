package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/tabula/pkg/config"
)

// ExampleNewEngineConfig demonstrates the defaults of a new configuration.
func ExampleNewEngineConfig() {
	cfg := config.NewEngineConfig()

	fmt.Printf("Native threshold: %d\n", cfg.Loader.NativeThreshold)
	fmt.Printf("File threshold: %d\n", cfg.Loader.FileThreshold)
	fmt.Printf("Max validation errors: %d\n", cfg.Transform.MaxValidationErrors)
	fmt.Printf("Relational extension: %v\n", cfg.RelationalExtensionEnabled())

	// Output:
	// Native threshold: 500
	// File threshold: 100000
	// Max validation errors: 100
	// Relational extension: false
}

// ExampleEngineConfig_Validate shows how to validate a configuration before
// handing it to the engine.
func ExampleEngineConfig_Validate() {
	cfg := config.NewEngineConfig()
	cfg.Relational = &config.RelationalConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "finance",
		User:     "tabula",
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println(cfg.Relational.DSN())
	fmt.Println(cfg.Relational.AliasOrDefault())

	// Output:
	// postgresql://tabula@localhost:5432/finance
	// pg_db
}
