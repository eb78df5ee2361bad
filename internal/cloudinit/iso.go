package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
)

// GenerateISO renders the seed files and packs them into an ISO9660 image
// labeled CIDATA, which cloud-init recognizes as a NoCloud seed.
//
// The image contains three files in the root directory:
//   - user-data: spec.UserData verbatim when set, else the generated default
//   - meta-data: instance metadata including public-keys
//   - network-config: netplan v2, DHCP on every interface
//
// Returns the image as a byte slice, ready to be written to ISO storage.
func GenerateISO(spec SeedSpec) ([]byte, error) {
	userData := string(spec.UserData)
	if userData == "" {
		generated, err := GenerateUserData(spec)
		if err != nil {
			return nil, fmt.Errorf("failed to generate user-data: %w", err)
		}
		userData = generated
	}

	metaData, err := GenerateMetaData(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	networkConfig, err := GenerateNetworkConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Cleanup removes the writer's staging files. Errors here don't
		// fail the operation since the image has already been generated.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(networkConfig)), "network-config"); err != nil {
		return nil, fmt.Errorf("failed to add network-config: %w", err)
	}

	var buf bytes.Buffer

	// The CIDATA volume label must be uppercase per the NoCloud spec.
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
