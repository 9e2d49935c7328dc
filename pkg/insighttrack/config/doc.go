/*
Package config loads insighttrack service and event configuration from YAML
or JSON.

Config wraps a decoded document and provides typed accessors that fall back
to defaults on missing keys or mismatched types:

	cfg, err := config.FromFile("insighttrack.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	timeout := cfg.Duration("init_timeout", 30*time.Second)

ParseService turns a document into validated Settings, and LoadEventConfig
reads the event-name lists that drive insighttrack.FilterAdapter:

	# events.yaml
	events:
	  - login
	  - purchase
	  - level_complete
*/
package config
