package types

import "strconv"

// Default service health endpoint used when a deployment supplies none
const (
	DefaultServicePort     = 8080
	DefaultHealthcheckPath = "/healthcheck"
)

// Parameters is the free-form parameter map attached to a deployment. Values
// arrive from JSON so numbers may be float64, int or numeric strings; the
// typed accessors normalize them.
type Parameters map[string]any

// MergeParameters combines parameter maps per key with later maps taking
// precedence. Callers pass defaults first, user values second and protected
// values last.
func MergeParameters(maps ...Parameters) Parameters {
	merged := Parameters{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// Clone returns a shallow copy
func (p Parameters) Clone() Parameters {
	return MergeParameters(p)
}

// String returns the named parameter as a string, or the fallback
func (p Parameters) String(key, fallback string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// Int returns the named parameter as an int, or the fallback
func (p Parameters) Int(key string, fallback int) int {
	v, ok := p[key]
	if !ok {
		return fallback
	}
	if n, ok := intValue(v); ok {
		return n
	}
	return fallback
}

// Bool returns the named parameter as a bool, or the fallback
func (p Parameters) Bool(key string, fallback bool) bool {
	v, ok := p[key]
	if !ok {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return fallback
}

// Strings returns the named parameter as a list of strings. Scalar values
// become a single-element list, which is how load balancer and zone selections
// arrive from single-value submissions.
func (p Parameters) Strings(key string) []string {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	switch s := v.(type) {
	case string:
		return []string{s}
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Min returns the ASG minimum size
func (p Parameters) Min() int { return p.Int("min", 0) }

// Max returns the ASG maximum size
func (p Parameters) Max() int { return p.Int("max", 0) }

// DesiredCapacity returns the ASG desired capacity
func (p Parameters) DesiredCapacity() int { return p.Int("desired_capacity", p.Min()) }

// HealthCheckType returns the ASG health check type, EC2 or ELB
func (p Parameters) HealthCheckType() string { return p.String("health_check_type", "EC2") }

// SelectedLoadBalancers returns the load balancer names traffic is routed
// through, normalized to a list
func (p Parameters) SelectedLoadBalancers() []string { return p.Strings("selected_load_balancers") }

// SelectedSecurityGroups returns the security group names or sg- ids attached
// to the launch configuration
func (p Parameters) SelectedSecurityGroups() []string { return p.Strings("selected_security_groups") }

// SelectedZones returns the unqualified availability zone letters
func (p Parameters) SelectedZones() []string { return p.Strings("selected_zones") }

// SubnetPurpose returns the subnet purpose, internal by default
func (p Parameters) SubnetPurpose() string { return p.String("subnet_purpose", "internal") }

// NewASGName returns the name of the group created by this deployment
func (p Parameters) NewASGName() string { return p.String("new_asg_name", "") }

// OldASGName returns the name of the group being replaced, if any
func (p Parameters) OldASGName() string { return p.String("old_asg_name", "") }

// OldAMI returns the image the replaced group was running, if known
func (p Parameters) OldAMI() string { return p.String("old_ami", "") }

// ServicePort returns the port instance healthchecks probe
func (p Parameters) ServicePort() int { return p.Int("service_port", DefaultServicePort) }

// HealthcheckPath returns the path instance healthchecks probe, with a leading
// slash supplied when missing
func (p Parameters) HealthcheckPath() string {
	path := p.String("healthcheck_path", DefaultHealthcheckPath)
	if path == "" {
		return DefaultHealthcheckPath
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return path
}

// HealthcheckSkip reports whether instance health checking is disabled
func (p Parameters) HealthcheckSkip() bool { return p.Bool("skip_instance_healthcheck", false) }

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
