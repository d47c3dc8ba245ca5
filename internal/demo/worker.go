package demo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"github.com/ChuLiYu/mwcontrol/internal/step"
	"github.com/ChuLiYu/mwcontrol/internal/worker"
)

// WorkTypeMean 是 demo worker 回報的工作類型
const WorkTypeMean int32 = 1

// Worker 擁有一個分片的樣本與目前的模型
type Worker struct {
	part    domain.VdsPartDesc
	samples []Sample

	mu    sync.Mutex // 保護 model，測試會從其他 goroutine 讀取
	model float64
}

var _ worker.ModelSink = (*Worker)(nil)

// NewWorker 建立處理 part 的 worker
func NewWorker(part domain.VdsPartDesc) *Worker {
	return &Worker{part: part, samples: Samples(part)}
}

// Processor 回傳執行此 worker 的 StepProcessor
func (w *Worker) Processor(reg *step.Registry) *worker.StepProcessor {
	return &worker.StepProcessor{
		Info:       worker.NewWorkerInfo(WorkTypeMean),
		Registry:   reg,
		NewVisitor: w.NewVisitor,
		Sink:       w,
		OnQuit: func() {
			slog.Debug("Demo worker quitting", "part", w.part.Name)
		},
	}
}

// Model 回傳最後收到的模型
func (w *Worker) Model() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

func (w *Worker) UpdateModel(_ int32, model []byte) error {
	v, err := DecodeModel(model)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.model = v
	w.mu.Unlock()
	return nil
}

// NewVisitor 建立執行一棵 step 樹的 visitor
func (w *Worker) NewVisitor(ctx context.Context, _ int32, out *blob.Writer) step.Visitor {
	return &solveVisitor{ctx: ctx, w: w, model: w.Model(), out: out}
}

// solveVisitor 只支援 SolveStep，其餘步驟一律失敗
type solveVisitor struct {
	step.Unsupported
	ctx   context.Context
	w     *Worker
	model float64
	out   *blob.Writer
}

func (v *solveVisitor) VisitSolve(_ *step.Tree, _ step.ID, s *step.Solve) error {
	if err := v.ctx.Err(); err != nil {
		return err
	}

	tiles := []domain.ObsDomain{v.w.part.Domain()}
	if s.Shape.Validate() == nil {
		var err error
		if tiles, err = v.w.part.Domain().Tiles(s.Shape); err != nil {
			return fmt.Errorf("tile %s: %w", v.w.part.Name, err)
		}
	}

	var sum float64
	var count int64
	for _, tile := range tiles {
		for _, smp := range v.w.samples {
			if !inTile(tile, smp) || !selected(&s.Selection, smp) {
				continue
			}
			sum += smp.Value - v.model
			count++
		}
	}

	v.out.PutInt32(int32(len(tiles)))
	v.out.PutFloat64(sum)
	v.out.PutInt64(count)
	return nil
}

func inTile(d domain.ObsDomain, s Sample) bool {
	return s.Freq >= d.StartFreq && s.Freq < d.EndFreq &&
		s.Time >= d.StartTime && s.Time < d.EndTime
}

// selected 套用 Selection 的站台過濾；空清單代表全部
func selected(sel *step.Selection, s Sample) bool {
	return matches(sel.Station1, s.Ant1) && matches(sel.Station2, s.Ant2)
}

func matches(list []int32, ant int) bool {
	if len(list) == 0 {
		return true
	}
	for _, a := range list {
		if int(a) == ant {
			return true
		}
	}
	return false
}
