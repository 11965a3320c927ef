/*
Package config loads Gantry server configuration from YAML.

Defaults cover everything except the remote service endpoint, so a minimal
configuration is a single line:

	remote:
	  base_url: http://asg.example.com:8700

Durations accept Go duration strings ("200ms", "60s") or bare seconds. The
deploy section carries parameter policy: global defaults, per-environment
defaults and protected overrides, the default SSH key, and the security groups
appended to every launch configuration.
*/
package config
