// internal/extract/snapshot.go
package extract

import "strconv"

// SnapshotSeparator joins exam and field names in snapshot keys.
const SnapshotSeparator = "::"

// Snapshot flattens result sections into "exam::field" -> current value.
// Repeated labels within one exam get a "#n" suffix in page order.
func Snapshot(exams []ExamSection) map[string]string {
	out := make(map[string]string)
	for _, s := range exams {
		for _, f := range s.Fields {
			key := s.Name + SnapshotSeparator + f.Name
			if _, dup := out[key]; dup {
				for n := 2; ; n++ {
					k := key + "#" + strconv.Itoa(n)
					if _, taken := out[k]; !taken {
						key = k
						break
					}
				}
			}
			out[key] = f.CurrentValue
		}
	}
	return out
}
