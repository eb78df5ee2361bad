// Package cloudinit generates NoCloud seed data for template builds.
//
// The seed carries three files (user-data, meta-data, network-config)
// following the cloud-init NoCloud datasource specification.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SeedSpec describes the seed contents for one template build.
type SeedSpec struct {
	// InstanceID must be unique per build; cloud-init re-runs first-boot
	// modules when it changes.
	InstanceID string
	Hostname   string
	// User renames the image's default account.
	User    string
	SSHKeys []string
	// UserData, when set, is used verbatim instead of the generated
	// default document. Cloud-init accepts several formats (cloud-config,
	// shell script, MIME), so no content validation happens here.
	UserData []byte
}

// UserData is the generated cloud-config document, marshaled to YAML and
// prefixed with the "#cloud-config" header.
type UserData struct {
	Hostname          string   `yaml:"hostname"`
	User              string   `yaml:"user,omitempty"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
}

// MetaData is the NoCloud instance metadata. Keys are also delivered here
// via public-keys so a verbatim user-data document cannot silently drop
// the requested key material.
type MetaData struct {
	InstanceID    string   `yaml:"instance-id"`
	LocalHostname string   `yaml:"local-hostname"`
	PublicKeys    []string `yaml:"public-keys,omitempty"`
}

// NetworkConfig is a netplan v2 document.
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig configures one netplan ethernet stanza.
type EthernetConfig struct {
	Match MatchConfig `yaml:"match"`
	DHCP4 bool        `yaml:"dhcp4"`
}

// MatchConfig matches interfaces by name glob.
type MatchConfig struct {
	Name string `yaml:"name"`
}

// GenerateUserData builds the default first-boot document: rename the
// default account, install the authorized keys, and keep password
// authentication off. Password access is never a fallback.
func GenerateUserData(spec SeedSpec) (string, error) {
	if spec.Hostname == "" {
		return "", fmt.Errorf("hostname is required")
	}

	userData := UserData{
		Hostname:          spec.Hostname,
		User:              spec.User,
		SSHAuthorizedKeys: spec.SSHKeys,
		SSHPasswordAuth:   false,
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// The #cloud-config header is required by the cloud-init spec.
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData builds the instance metadata.
func GenerateMetaData(spec SeedSpec) (string, error) {
	if spec.InstanceID == "" {
		return "", fmt.Errorf("instance-id is required")
	}
	if spec.Hostname == "" {
		return "", fmt.Errorf("hostname is required")
	}

	metaData := MetaData{
		InstanceID:    spec.InstanceID,
		LocalHostname: spec.Hostname,
		PublicKeys:    spec.SSHKeys,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig builds the netplan document. A template must never
// pin addresses or MACs - clones bring their own - so every ethernet
// interface gets DHCP.
func GenerateNetworkConfig() (string, error) {
	networkConfig := NetworkConfig{
		Version: 2,
		Ethernets: map[string]EthernetConfig{
			"default": {
				Match: MatchConfig{Name: "e*"},
				DHCP4: true,
			},
		},
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
