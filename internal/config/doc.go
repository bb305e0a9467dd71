// Package config loads the sharedstate server configuration.
//
// Settings come from three layers, in increasing priority: built-in
// defaults, an optional sharedstate.json (or .yaml/.toml) file, and
// SHAREDSTATE_ environment variables. A .env file is loaded into the
// environment first when present.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "address": ":8080",
//	    "shutdown_timeout": "15s"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  },
//	  "storage": {
//	    "backend": "redis",
//	    "redis": {
//	      "url": "redis://localhost:6379/0",
//	      "prefix": "sharedstate:"
//	    }
//	  },
//	  "persist": {
//	    "version": "1"
//	  },
//	  "metrics": {
//	    "enabled": true
//	  }
//	}
//
// # Environment
//
// Every key maps to an environment variable: storage.redis.url becomes
// SHAREDSTATE_STORAGE_REDIS_URL. Use EnvName to derive it.
//
// # Usage
//
//	if err := config.LoadEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("sharedstate.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Backend:", cfg.Storage.Backend)
package config
