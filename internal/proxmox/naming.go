package proxmox

import "fmt"

// Volume naming is backend-dependent and never assumed: LVM-thin and ZFS
// name an imported template disk base-<id>-disk-0 once it backs a template,
// while a plain guest disk is vm-<id>-disk-0. Directly after importdisk the
// name depends on backend and version, so callers probe both forms in order
// and treat whichever resolves as authoritative.

// BaseVolumeName is the template-derived (read-only) volume form.
func BaseVolumeName(id int) string {
	return fmt.Sprintf("base-%d-disk-0", id)
}

// LiveVolumeName is the live guest volume form.
func LiveVolumeName(id int) string {
	return fmt.Sprintf("vm-%d-disk-0", id)
}

// VolumeCandidates returns the names a freshly imported primary disk may
// appear under, in probe order.
func VolumeCandidates(id int) []string {
	return []string{BaseVolumeName(id), LiveVolumeName(id)}
}

// VolumeID builds the <pool>:<volume> form the management tools take.
func VolumeID(pool, volume string) string {
	return pool + ":" + volume
}

// CloudInitVolumeID is the qm value that allocates a native cloud-init
// drive on the given pool.
func CloudInitVolumeID(pool string) string {
	return pool + ":cloudinit"
}

// SeedISOName names a NoCloud seed image in the host ISO library. The id
// keeps concurrent template generations from clobbering each other's seeds.
func SeedISOName(id int) string {
	return fmt.Sprintf("vm-%d-cidata.iso", id)
}

// ISOVolumeID is the qm value referencing an ISO library file on a storage.
func ISOVolumeID(storage, filename string) string {
	return fmt.Sprintf("%s:iso/%s", storage, filename)
}
