package cache

import "strings"

// Generation identifies one deployed asset set. A generation string is never
// reused once a newer one has shipped.
type Generation string

// Role distinguishes the partitions owned by a generation.
type Role string

const (
	RoleShell   Role = "shell"
	RoleRuntime Role = "runtime"
)

// AllPartitions makes Match search every partition in name order.
const AllPartitions = ""

// PartitionName returns "<generation>-<role>".
func PartitionName(gen Generation, role Role) string {
	return string(gen) + "-" + string(role)
}

// GenerationOf returns the generation tag of a partition name and whether the
// name carries a known role suffix.
func GenerationOf(name string) (Generation, bool) {
	for _, r := range []Role{RoleShell, RoleRuntime} {
		suffix := "-" + string(r)
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return Generation(strings.TrimSuffix(name, suffix)), true
		}
	}
	return "", false
}

// Owns reports whether the partition name belongs to g.
func (g Generation) Owns(name string) bool {
	tag, ok := GenerationOf(name)
	return ok && tag == g
}
