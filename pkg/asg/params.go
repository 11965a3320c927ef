package asg

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gantryhq/gantry/pkg/types"
)

// Parameter keys that steer Gantry itself and are never posted to the remote
// service
var internalKeys = map[string]bool{
	"new_asg_name":              true,
	"old_asg_name":              true,
	"old_ami":                   true,
	"healthcheck_path":          true,
	"service_port":              true,
	"skip_instance_healthcheck": true,
}

// FormOptions carries everything beyond the parameter map that form assembly
// needs
type FormOptions struct {
	Application string
	Environment string
	Region      string
	AMI         string

	// VPCID qualifies load balancer selections for internal subnets
	VPCID string

	// SSHKey is applied when the parameters name no key
	SSHKey string

	// HealthcheckSecurityGroup and MonitoringSecurityGroup are appended to
	// the selection so probes and metrics collection reach the instances
	HealthcheckSecurityGroup string
	MonitoringSecurityGroup  string

	// SecurityGroups is the region's name to ID table from the listing
	SecurityGroups map[string]string
}

// PrepareForm turns a merged parameter map into the form the remote service
// expects: snake_case keys become camelCase, zones gain the region prefix,
// security group names become IDs, load balancer selections are renamed for
// the VPC on internal subnets, and multi-valued keys are repeated rather
// than joined.
func PrepareForm(params types.Parameters, opts FormOptions) (url.Values, error) {
	form := url.Values{}
	form.Set("appName", opts.Application)
	form.Set("stack", opts.Environment)
	form.Set("imageId", opts.AMI)

	if _, ok := params["key_name"]; !ok && opts.SSHKey != "" {
		form.Set("keyName", opts.SSHKey)
	}

	lbKey := "selectedLoadBalancers"
	if params.SubnetPurpose() == "internal" && opts.VPCID != "" {
		lbKey = "selectedLoadBalancersForVpcId" + opts.VPCID
	}

	for key := range params {
		if internalKeys[key] {
			continue
		}
		switch key {
		case "selected_zones":
			for _, zone := range params.SelectedZones() {
				form.Add("selectedZones", qualifyZone(opts.Region, zone))
			}
		case "selected_security_groups":
			ids, err := resolveSecurityGroups(params.SelectedSecurityGroups(), opts.SecurityGroups)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				form.Add("selectedSecurityGroups", id)
			}
		case "selected_load_balancers":
			for _, lb := range params.SelectedLoadBalancers() {
				form.Add(lbKey, lb)
			}
		default:
			addValues(form, camelize(key), params[key])
		}
	}

	for _, name := range []string{opts.HealthcheckSecurityGroup, opts.MonitoringSecurityGroup} {
		if name == "" {
			continue
		}
		ids, err := resolveSecurityGroups([]string{name}, opts.SecurityGroups)
		if err != nil {
			return nil, err
		}
		form.Add("selectedSecurityGroups", ids[0])
	}

	return form, nil
}

// qualifyZone prefixes a bare zone letter with the region
func qualifyZone(region, zone string) string {
	if strings.HasPrefix(zone, region) {
		return zone
	}
	return region + zone
}

// resolveSecurityGroups translates names to IDs through the listing; values
// already shaped like IDs pass through
func resolveSecurityGroups(groups []string, table map[string]string) ([]string, error) {
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		if strings.HasPrefix(g, "sg-") {
			ids = append(ids, g)
			continue
		}
		id, ok := table[g]
		if !ok {
			return nil, types.NewError(types.ErrUnknownSecurityGroup, "security group %s not found", g)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// addValues appends a scalar or each element of a list under one form key
func addValues(form url.Values, key string, value any) {
	switch v := value.(type) {
	case nil:
	case []string:
		for _, e := range v {
			form.Add(key, e)
		}
	case []any:
		for _, e := range v {
			form.Add(key, stringify(e))
		}
	default:
		form.Add(key, stringify(v))
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// camelize converts a snake_case parameter key to the service's camelCase
// form key
func camelize(key string) string {
	parts := strings.Split(key, "_")
	if len(parts) == 1 {
		return key
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
