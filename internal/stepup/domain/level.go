package domain

import "fmt"

// SecurityLevel is the totally ordered assurance tier a session holds or a
// rule demands. Higher values always mean stronger proof of identity.
type SecurityLevel int

const (
	LevelNone SecurityLevel = iota
	LevelBasic
	LevelElevated
	LevelHigh
)

var levelNames = map[SecurityLevel]string{
	LevelNone:     "none",
	LevelBasic:    "basic",
	LevelElevated: "elevated",
	LevelHigh:     "high",
}

func (l SecurityLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Satisfies reports whether a session at level l meets a requirement of r.
func (l SecurityLevel) Satisfies(r SecurityLevel) bool { return l >= r }

// ParseSecurityLevel maps a level name to its SecurityLevel. Unknown or
// empty names map to LevelNone, the weakest assumption.
func ParseSecurityLevel(s string) SecurityLevel {
	for level, name := range levelNames {
		if name == s {
			return level
		}
	}
	return LevelNone
}
