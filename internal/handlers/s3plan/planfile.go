package s3plan

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/tfconvoy/tfconvoy/internal/backend"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

// Saved plan files are zip archives; tfstate is the snapshot of the state the
// plan was computed against.
const planStateEntry = "tfstate"

// readPlanState extracts and parses the state snapshot embedded in a saved
// plan archive. The snapshot's serial and lineage are what lineage
// verification compares against the current remote state.
func readPlanState(planPath string) (*backend.State, error) {
	archive, err := zip.OpenReader(planPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodePlanError,
			fmt.Sprintf("plan file %q is not a readable plan archive", planPath))
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if entry.Name != planStateEntry {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodePlanError,
				fmt.Sprintf("failed to open %s entry in plan %q", planStateEntry, planPath))
		}
		defer rc.Close()

		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodePlanError,
				fmt.Sprintf("failed to read %s entry in plan %q", planStateEntry, planPath))
		}
		return backend.ParseState(raw)
	}
	return nil, apperrors.New(apperrors.CodePlanError,
		fmt.Sprintf("plan file %q has no %s entry", planPath, planStateEntry))
}
