package domain

import (
	"fmt"
	"strings"
)

type RelationType string

const (
	RelationPrequel     RelationType = "Prequel"
	RelationSequel      RelationType = "Sequel"
	RelationAdaptation  RelationType = "Adaptation"
	RelationSideStory   RelationType = "Side Story"
	RelationSummary     RelationType = "Summary"
	RelationSpinOff     RelationType = "Spin-off"
	RelationAlternative RelationType = "Alternative"
	RelationParent      RelationType = "Parent"
	RelationCharacter   RelationType = "Character"
	RelationCompilation RelationType = "Compilation"
	RelationContains    RelationType = "Contains"
	RelationSource      RelationType = "Source"
	RelationOther       RelationType = "Other"
)

var relationTypes = []RelationType{
	RelationPrequel, RelationSequel, RelationAdaptation, RelationSideStory, RelationSummary,
	RelationSpinOff, RelationAlternative, RelationParent, RelationCharacter, RelationCompilation,
	RelationContains, RelationSource, RelationOther,
}

func (t RelationType) Valid() bool {
	for _, v := range relationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// CatalogRelationTypes is the catalog's relation vocabulary. Every entry must
// have a row in relationTable.
var CatalogRelationTypes = []string{
	"PREQUEL", "SEQUEL", "ADAPTATION", "SIDE_STORY", "SUMMARY", "SPIN_OFF", "ALTERNATIVE",
	"PARENT", "CHARACTER", "COMPILATION", "CONTAINS", "SOURCE", "OTHER",
}

var relationTable = map[string]RelationType{
	"PREQUEL":     RelationPrequel,
	"SEQUEL":      RelationSequel,
	"ADAPTATION":  RelationAdaptation,
	"SIDE_STORY":  RelationSideStory,
	"SUMMARY":     RelationSummary,
	"SPIN_OFF":    RelationSpinOff,
	"ALTERNATIVE": RelationAlternative,
	"PARENT":      RelationParent,
	"CHARACTER":   RelationCharacter,
	"COMPILATION": RelationCompilation,
	"CONTAINS":    RelationContains,
	"SOURCE":      RelationSource,
	"OTHER":       RelationOther,
}

// TranslateRelation maps a catalog relation label to the local enum.
// Unknown labels become RelationOther.
func TranslateRelation(s string) RelationType {
	if t, ok := relationTable[normalizeLabel(s)]; ok {
		return t
	}
	return RelationOther
}

type Role string

const (
	RoleMain       Role = "Main"
	RoleSupporting Role = "Supporting"
	RoleBackground Role = "Background"
)

var CatalogRoles = []string{"MAIN", "SUPPORTING", "BACKGROUND"}

var roleTable = map[string]Role{
	"MAIN":       RoleMain,
	"SUPPORTING": RoleSupporting,
	"BACKGROUND": RoleBackground,
}

func (r Role) Valid() bool {
	return r == RoleMain || r == RoleSupporting || r == RoleBackground
}

// TranslateRole case-normalizes a catalog role. Unknown roles become RoleBackground.
func TranslateRole(s string) Role {
	if r, ok := roleTable[normalizeLabel(s)]; ok {
		return r
	}
	return RoleBackground
}

type ReleaseStatus string

const (
	StatusFinished       ReleaseStatus = "Finished"
	StatusReleasing      ReleaseStatus = "Releasing"
	StatusNotYetReleased ReleaseStatus = "Not Yet Released"
	StatusCancelled      ReleaseStatus = "Cancelled"
	StatusHiatus         ReleaseStatus = "Hiatus"
)

var statusTable = map[string]ReleaseStatus{
	"FINISHED":         StatusFinished,
	"RELEASING":        StatusReleasing,
	"NOT_YET_RELEASED": StatusNotYetReleased,
	"CANCELLED":        StatusCancelled,
	"HIATUS":           StatusHiatus,
}

// TranslateStatus returns "" for an empty or unknown status.
func TranslateStatus(s string) ReleaseStatus {
	return statusTable[normalizeLabel(s)]
}

func normalizeLabel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// ValidateTables checks that every catalog label has a translation and that
// every translation is a valid local value. Called once at startup.
func ValidateTables() error {
	return validateTables(CatalogRelationTypes, relationTable, CatalogRoles, roleTable)
}

func validateTables(relKeys []string, rel map[string]RelationType, roleKeys []string, roles map[string]Role) error {
	for _, k := range relKeys {
		v, ok := rel[k]
		if !ok {
			return fmt.Errorf("relation table: missing catalog type %q", k)
		}
		if !v.Valid() {
			return fmt.Errorf("relation table: %q maps to invalid type %q", k, v)
		}
	}
	for k, v := range rel {
		if !v.Valid() {
			return fmt.Errorf("relation table: %q maps to invalid type %q", k, v)
		}
	}
	for _, k := range roleKeys {
		v, ok := roles[k]
		if !ok {
			return fmt.Errorf("role table: missing catalog role %q", k)
		}
		if !v.Valid() {
			return fmt.Errorf("role table: %q maps to invalid role %q", k, v)
		}
	}
	return nil
}
