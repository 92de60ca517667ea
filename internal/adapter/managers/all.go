package managers

import (
	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/procrunner"
)

// All constructs every manager adapter, keyed by registry id. Call once at
// startup; the returned map is read-only for the process lifetime.
func All(r *procrunner.Runner) map[string]adapter.Manager {
	return map[string]adapter.Manager{
		homebrewFormulaID: NewHomebrewFormula(r),
		homebrewCaskID:    NewHomebrewCask(r),
		npmID:             NewNPM(r),
		pipID:             NewPip(r),
		cargoID:           NewCargo(r),
		gemID:             NewGem(r),
		pipxID:            NewPipx(r),
		goID:              NewGo(r),
		miseID:            NewMise(r),
		rustupID:          NewRustup(r),
		masID:             NewMas(r),
		softwareupdateID:  NewSoftwareUpdate(r),
		sparkleID:         NewSparkle(),
		setappID:          NewSetapp(),
		parallelsID:       NewParallels(),
	}
}
