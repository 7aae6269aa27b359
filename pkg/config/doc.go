// Package config provides configuration for the Tabula engine.
//
// A single EngineConfig describes the engine database location, the optional
// object storage and relational attachments, loader thresholds, transform
// defaults and observability settings. JobConfig describes one transform run
// for the CLI.
//
// # Usage
//
//	cfg := config.NewEngineConfig()
//	if err := config.Load("tabula.yaml", cfg); err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Variable Substitution
//
// Files may reference ${VAR} or ${VAR:-default}; values are substituted before
// the YAML is parsed:
//
//	relational:
//	  connection_string: ${DATABASE_URL}
//	object_storage:
//	  region: ${AWS_REGION:-eu-central-1}
//	  use_credential_chain: true
package config
