package tmrequest

import "fmt"

// Classification is the outcome of CanAssign and Validate.
type Classification int

const (
	// Valid means the user may be assigned, or is a correctly assigned training manager.
	Valid Classification = iota + 1
	// Invalid is the fallback when no other outcome applies.
	Invalid
	// NoSystemRole means the user lacks the system-scope role.
	NoSystemRole
	// SystemRole means the user already holds the system-scope role.
	SystemRole
	// NoUserSolutionID means the user's solution id attribute is empty or missing.
	NoUserSolutionID
	// NoSolutionUsersets means no depth-2 userset carries the user's solution id.
	NoSolutionUsersets
	// MoreThanOneSolutionUserset means the solution id or the assignments are ambiguous.
	MoreThanOneSolutionUserset
	// InvalidSolutionUsersetRole means the user holds a userset role outside the matching userset.
	InvalidSolutionUsersetRole
	// NoSolutionUsersetRoles means the user holds no userset-scope assignment.
	NoSolutionUsersetRoles
	// SolutionUsersetRoleAssigned means the user already holds a userset-scope assignment.
	SolutionUsersetRoleAssigned
)

var classificationNames = map[Classification]string{
	Valid:                       "valid",
	Invalid:                     "invalid",
	NoSystemRole:                "nosystemrole",
	SystemRole:                  "systemrole",
	NoUserSolutionID:            "nousersolutionid",
	NoSolutionUsersets:          "nosolutionusersets",
	MoreThanOneSolutionUserset:  "morethanonesolutionuserset",
	InvalidSolutionUsersetRole:  "invalidsolutionusersetrole",
	NoSolutionUsersetRoles:      "nosolutionusersetroles",
	SolutionUsersetRoleAssigned: "solutionusersetroleassigned",
}

// Classifications returns every classification in declaration order.
func Classifications() []Classification {
	return []Classification{
		Valid,
		Invalid,
		NoSystemRole,
		SystemRole,
		NoUserSolutionID,
		NoSolutionUsersets,
		MoreThanOneSolutionUserset,
		InvalidSolutionUsersetRole,
		NoSolutionUsersetRoles,
		SolutionUsersetRoleAssigned,
	}
}

// String returns the canonical name, or "unknown" for values outside the set.
func (c Classification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether c is the Valid outcome.
func (c Classification) IsValid() bool {
	return c == Valid
}

// ParseClassification returns the classification with the given canonical name.
func ParseClassification(name string) (Classification, error) {
	for c, n := range classificationNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidClassification, name)
}

// MarshalText implements encoding.TextMarshaler.
func (c Classification) MarshalText() ([]byte, error) {
	if _, ok := classificationNames[c]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidClassification, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Classification) UnmarshalText(text []byte) error {
	parsed, err := ParseClassification(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
