package demo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/internal/controller"
	"github.com/ChuLiYu/mwcontrol/internal/step"
)

// defaultEpsilon 用於 SolveStep 沒有指定 Epsilon 時
const defaultEpsilon = 1e-9

// Solver 是 master 端的 controller.Driver
//
// 每次迭代送出同一棵 step 樹；worker 對樹中每個 SolveStep 回覆一筆
// (tiles, sum, count)。
type Solver struct {
	tree    *step.Tree
	solves  int
	epsilon float64

	model float64
	sum   float64
	count int64
	tiles int64
}

var (
	_ controller.Driver        = (*Solver)(nil)
	_ controller.ModelRestorer = (*Solver)(nil)
)

// NewSolver 以 tree 建立求解器；tree 至少要有一個 SolveStep
func NewSolver(tree *step.Tree) (*Solver, error) {
	s := &Solver{tree: tree}
	tree.Walk(func(_ step.ID, _ int, b step.Body) {
		if solve, ok := b.(*step.Solve); ok {
			if s.solves == 0 {
				s.epsilon = solve.Epsilon
			}
			s.solves++
		}
	})
	if s.solves == 0 {
		return nil, errors.New("demo: strategy has no SolveStep")
	}
	if s.epsilon <= 0 {
		s.epsilon = defaultEpsilon
	}
	return s, nil
}

// Model 回傳目前的模型值
func (s *Solver) Model() float64 { return s.model }

// Tiles 回傳最後一次迭代 worker 處理的區塊總數
func (s *Solver) Tiles() int64 { return s.tiles }

func (s *Solver) NextStep(int) (*step.Tree, error) {
	s.sum, s.count, s.tiles = 0, 0, 0
	return s.tree, nil
}

func (s *Solver) Merge(_ int, rd *blob.Reader) error {
	for i := 0; i < s.solves; i++ {
		tiles := rd.GetInt32()
		sum := rd.GetFloat64()
		count := rd.GetInt64()
		if err := rd.Err(); err != nil {
			return err
		}
		s.tiles += int64(tiles)
		s.sum += sum
		s.count += count
	}
	return nil
}

func (s *Solver) Solve(_ context.Context, iteration int) (controller.Solution, error) {
	if s.count == 0 {
		return controller.Solution{}, fmt.Errorf("iteration %d: %w", iteration, ErrNoSamples)
	}

	delta := s.sum / float64(s.count)
	s.model += delta
	return controller.Solution{
		Converged: math.Abs(delta) < s.epsilon,
		Quality:   math.Abs(delta),
		Model:     EncodeModel(s.model),
	}, nil
}

func (s *Solver) RestoreModel(model []byte) error {
	v, err := DecodeModel(model)
	if err != nil {
		return err
	}
	s.model = v
	return nil
}
