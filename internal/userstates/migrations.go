// Package userstates holds the compiled-in migration path of the user-state
// document and the strict conversion between that document and a typed
// snapshot.
package userstates

import (
	"fmt"

	"github.com/mesh-intelligence/hanfu/internal/migrate"
)

// VersionField names the version tag of the user-state document.
const VersionField = "version"

// LatestVersion is the schema version this program reads and writes. When
// adding a step to Registry, bump it to the new step's version.
const LatestVersion = "0.2.0"

// Registry returns the upgrade path of the user-state document. Add new
// steps at the end.
func Registry() *migrate.Registry {
	return migrate.NewRegistry(VersionField).
		Add("0.1.0", nestUnderStates).
		Add("0.2.0", renameKiriageMangan)
}

// Upgrade brings doc to LatestVersion. A document already at LatestVersion
// is reported without building the registry.
func Upgrade(doc migrate.Document) (migrate.Result, error) {
	if v, ok := doc[VersionField].(string); ok && v == LatestVersion {
		return migrate.NoUpdateNeeded, nil
	}
	return migrate.Upgrade(doc, Registry())
}

// nestUnderStates moves records kept at the document root by the earliest
// releases into a "states" object.
func nestUnderStates(doc migrate.Document) error {
	if _, ok := doc["states"]; ok {
		return nil
	}
	states := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == VersionField {
			continue
		}
		states[k] = v
		delete(doc, k)
	}
	doc["states"] = states
	return nil
}

// renameKiriageMangan renames scoring_settings.use_4_30_mangan to
// use_kiriage_mangan in every record. An existing use_kiriage_mangan wins.
func renameKiriageMangan(doc migrate.Document) error {
	states, ok := doc.Object("states")
	if !ok {
		return fmt.Errorf("states is %T, want object", doc["states"])
	}
	for _, rec := range states {
		settings, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		scoring, ok := settings["scoring_settings"].(map[string]any)
		if !ok {
			continue
		}
		old, ok := scoring["use_4_30_mangan"]
		if !ok {
			continue
		}
		delete(scoring, "use_4_30_mangan")
		if _, exists := scoring["use_kiriage_mangan"]; !exists {
			scoring["use_kiriage_mangan"] = old
		}
	}
	return nil
}
