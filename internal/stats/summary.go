package stats

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"neurodrive/internal/model"
)

// Summary condenses a generation log.
type Summary struct {
	Generations     int     `json:"generations"`
	FinalBest       float64 `json:"final_best"`
	FirstAvg        float64 `json:"first_avg"`
	FinalAvg        float64 `json:"final_avg"`
	AvgMean         float64 `json:"avg_mean"`
	AvgStdDev       float64 `json:"avg_std_dev"`
	GenBestMax      float64 `json:"gen_best_max"`
	GenBestMin      float64 `json:"gen_best_min"`
	GenBestStdDev   float64 `json:"gen_best_std_dev"`
	AvgSlope        float64 `json:"avg_slope"`
	BestImprovement float64 `json:"best_improvement"`
}

func Summarize(records []model.GenerationRecord) (Summary, error) {
	if len(records) == 0 {
		return Summary{}, errors.New("generation log is empty")
	}

	gens := make([]float64, len(records))
	avg := make([]float64, len(records))
	genBest := make([]float64, len(records))
	for i, r := range records {
		gens[i] = float64(r.Generation)
		avg[i] = r.AvgReward
		genBest[i] = r.GenBestRecord
	}

	first := records[0]
	last := records[len(records)-1]
	s := Summary{
		Generations:     len(records),
		FinalBest:       last.BestRecord,
		FirstAvg:        first.AvgReward,
		FinalAvg:        last.AvgReward,
		AvgMean:         stat.Mean(avg, nil),
		GenBestMax:      floats.Max(genBest),
		GenBestMin:      floats.Min(genBest),
		BestImprovement: last.BestRecord - first.BestRecord,
	}
	if len(records) > 1 {
		s.AvgStdDev = stat.StdDev(avg, nil)
		s.GenBestStdDev = stat.StdDev(genBest, nil)
		_, s.AvgSlope = stat.LinearRegression(gens, avg, nil, false)
	}
	return s, nil
}
