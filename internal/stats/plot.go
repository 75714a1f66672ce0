package stats

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"neurodrive/internal/model"
)

// WritePlot renders best, generation best and average reward against
// generation. The image format follows the extension of outPath.
func WritePlot(records []model.GenerationRecord, title, outPath string) error {
	if len(records) == 0 {
		return errors.New("generation log is empty")
	}
	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "generation"
	p.Y.Label.Text = "reward"

	best := make(plotter.XYs, len(records))
	genBest := make(plotter.XYs, len(records))
	avg := make(plotter.XYs, len(records))
	for i, r := range records {
		x := float64(r.Generation)
		best[i].X, best[i].Y = x, r.BestRecord
		genBest[i].X, genBest[i].Y = x, r.GenBestRecord
		avg[i].X, avg[i].Y = x, r.AvgReward
	}

	series := []struct {
		name string
		pts  plotter.XYs
	}{
		{name: "best", pts: best},
		{name: "gen best", pts: genBest},
		{name: "avg", pts: avg},
	}
	for i, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("plot %s: %w", s.name, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	return p.Save(6*vg.Inch, 4*vg.Inch, outPath)
}
