package syncer

import (
	"context"
	"fmt"
	"math"
)

// Status reports how much of the kept corpus is on local disk. Percent is by
// size when sizes are known and by file count otherwise.
type Status struct {
	FilesLocal     int     `json:"files_local" yaml:"files_local"`
	FilesRemaining int     `json:"files_remaining" yaml:"files_remaining"`
	MBLocal        float64 `json:"mb_local" yaml:"mb_local"`
	MBRemaining    float64 `json:"mb_remaining" yaml:"mb_remaining"`
	Percent        float64 `json:"percent" yaml:"percent"`
}

// Status computes sync progress from durably committed state only.
func (s *Syncer) Status(ctx context.Context) (Status, error) {
	files, err := s.files.CandidateFiles(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load candidate files: %w", err)
	}
	var st Status
	for _, f := range files {
		if f.IsLocal {
			st.FilesLocal++
			st.MBLocal += f.SizeMB
		} else {
			st.FilesRemaining++
			st.MBRemaining += f.SizeMB
		}
	}
	st.MBLocal = round(st.MBLocal, 3)
	st.MBRemaining = round(st.MBRemaining, 3)

	switch totalMB, total := st.MBLocal+st.MBRemaining, st.FilesLocal+st.FilesRemaining; {
	case totalMB > 0:
		st.Percent = round(100*st.MBLocal/totalMB, 1)
	case total > 0:
		st.Percent = round(100*float64(st.FilesLocal)/float64(total), 1)
	}
	return st, nil
}

// String renders the status as the plain text report.
func (st Status) String() string {
	return fmt.Sprintf(
		"Thesis corpus sync %5.1f%%\n"+
			"    files downloaded: %6d  (%8.1f MB)\n"+
			"    files remaining:  %6d  (%8.1f MB)\n",
		st.Percent,
		st.FilesLocal, st.MBLocal,
		st.FilesRemaining, st.MBRemaining,
	)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
