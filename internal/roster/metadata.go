package roster

import (
	"encoding/json"
	"strings"
)

// Role is the resolved classroom role of a participant.
type Role string

const (
	RoleTeacher  Role = "teacher"
	RoleStudent  Role = "student"
	RoleObserver Role = "observer"
)

// DeviceTag distinguishes a participant's camera feed from a screen share published under
// a separate identity.
type DeviceTag string

const (
	DevicePrimary DeviceTag = "primary"
	DeviceScreen  DeviceTag = "screen"
)

// MetadataSource records which variant resolved a participant.
type MetadataSource string

const (
	SourceStructured MetadataSource = "structured"
	SourceHeuristic  MetadataSource = "heuristic"
)

// Metadata is the resolved view of a participant's free-form transport metadata.
type Metadata struct {
	Source      MetadataSource
	Role        Role
	Variant     string
	Device      DeviceTag
	DisplayName string
	Hidden      bool
}

var observerVariants = map[string]struct{}{
	"observer":        {},
	"ghost":           {},
	"silent_observer": {},
	"admin_observer":  {},
	"supervisor":      {},
}

var teacherVariants = map[string]struct{}{
	"teacher":    {},
	"tutor":      {},
	"instructor": {},
	"host":       {},
}

// ParseMetadata resolves identity and raw metadata into a concrete role. Structured JSON
// metadata is tried first; if it is absent, malformed or carries no role, an identity
// prefix heuristic is used. It never fails and defaults to a primary-device student.
func ParseMetadata(identity, raw string) Metadata {
	if meta, ok := parseStructured(raw); ok {
		return meta
	}
	return parseHeuristic(identity)
}

type structuredMetadata struct {
	Role        string `json:"role"`
	Device      string `json:"device"`
	DisplayName string `json:"display_name"`
	Hidden      bool   `json:"hidden"`
}

func parseStructured(raw string) (Metadata, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '{' {
		return Metadata{}, false
	}

	var decoded structuredMetadata
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return Metadata{}, false
	}
	variant := normalizeVariant(decoded.Role)
	if variant == "" {
		return Metadata{}, false
	}

	role := roleForVariant(variant)
	device := DevicePrimary
	if strings.EqualFold(strings.TrimSpace(decoded.Device), string(DeviceScreen)) {
		device = DeviceScreen
	}
	return Metadata{
		Source:      SourceStructured,
		Role:        role,
		Variant:     variant,
		Device:      device,
		DisplayName: strings.TrimSpace(decoded.DisplayName),
		Hidden:      decoded.Hidden || role == RoleObserver,
	}, true
}

func parseHeuristic(identity string) Metadata {
	id := strings.ToLower(strings.TrimSpace(identity))

	meta := Metadata{
		Source:  SourceHeuristic,
		Role:    RoleStudent,
		Variant: string(RoleStudent),
		Device:  DevicePrimary,
	}
	if strings.HasSuffix(id, "-screen") || strings.HasSuffix(id, "_screen") {
		meta.Device = DeviceScreen
	}

	prefix := id
	if i := strings.IndexAny(id, "-_:"); i > 0 {
		prefix = id[:i]
	}
	switch {
	case prefix == "admin" || prefix == "silent":
		meta.Variant = "admin_observer"
	default:
		meta.Variant = normalizeVariant(prefix)
	}
	meta.Role = roleForVariant(meta.Variant)
	if meta.Role == RoleStudent {
		meta.Variant = string(RoleStudent)
	}
	meta.Hidden = meta.Role == RoleObserver
	return meta
}

func normalizeVariant(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(raw)
}

func roleForVariant(variant string) Role {
	if _, ok := observerVariants[variant]; ok {
		return RoleObserver
	}
	if _, ok := teacherVariants[variant]; ok {
		return RoleTeacher
	}
	return RoleStudent
}
