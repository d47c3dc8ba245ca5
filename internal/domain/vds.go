package domain

// ============================================================================
// 職責說明：
// 1. VdsPartDesc 描述資料集的一個分片：位置、時間範圍、頻帶、基線
// 2. VdsDesc 彙整所有分片與全域天線名稱表
// 3. 兩者都以 parset 格式持久化，VdsDesc 的分片以 PartI. 為前綴
// ============================================================================

import (
	"errors"
	"fmt"
	"math"

	"github.com/ChuLiYu/mwcontrol/internal/parset"
)

// ErrBaselineMismatch 天線配對長度不一致
var ErrBaselineMismatch = errors.New("ant1 and ant2 must have the same length")

// VdsPartDesc 資料集分片描述
type VdsPartDesc struct {
	Name       string    // 分片名稱（通常是檔案路徑）
	FileSys    string    // 所在的檔案系統
	StartTime  float64   // 起始時間
	EndTime    float64   // 結束時間
	NChan      []int     // 每個頻帶的通道數
	StartFreqs []float64 // 每個頻帶的起始頻率
	EndFreqs   []float64 // 每個頻帶的結束頻率
	Ant1       []int     // 基線第一根天線
	Ant2       []int     // 基線第二根天線
}

// SetName 設定分片名稱與所在檔案系統
func (p *VdsPartDesc) SetName(name, fileSys string) {
	p.Name = name
	p.FileSys = fileSys
}

// SetTimes 設定時間範圍
func (p *VdsPartDesc) SetTimes(start, end float64) error {
	if start > end {
		return fmt.Errorf("%w: time [%g, %g)", ErrMalformedDomain, start, end)
	}
	p.StartTime = start
	p.EndTime = end
	return nil
}

// AddBand 加入一個頻帶
func (p *VdsPartDesc) AddBand(nchan int, startFreq, endFreq float64) error {
	if nchan <= 0 || startFreq > endFreq {
		return fmt.Errorf("%w: band nchan=%d freq [%g, %g)", ErrMalformedDomain, nchan, startFreq, endFreq)
	}
	p.NChan = append(p.NChan, nchan)
	p.StartFreqs = append(p.StartFreqs, startFreq)
	p.EndFreqs = append(p.EndFreqs, endFreq)
	return nil
}

// SetBaselines 設定基線（天線配對）清單
func (p *VdsPartDesc) SetBaselines(ant1, ant2 []int) error {
	if len(ant1) != len(ant2) {
		return fmt.Errorf("%w: %d vs %d", ErrBaselineMismatch, len(ant1), len(ant2))
	}
	p.Ant1 = append([]int(nil), ant1...)
	p.Ant2 = append([]int(nil), ant2...)
	return nil
}

// NBand 回傳頻帶數量
func (p *VdsPartDesc) NBand() int { return len(p.NChan) }

// NBaseline 回傳基線數量
func (p *VdsPartDesc) NBaseline() int { return len(p.Ant1) }

// Domain 回傳涵蓋所有頻帶的觀測範圍
func (p *VdsPartDesc) Domain() ObsDomain {
	d := ObsDomain{StartTime: p.StartTime, EndTime: p.EndTime}
	if len(p.StartFreqs) == 0 {
		return d
	}
	d.StartFreq, d.EndFreq = math.Inf(1), math.Inf(-1)
	for i := range p.StartFreqs {
		d.StartFreq = math.Min(d.StartFreq, p.StartFreqs[i])
		d.EndFreq = math.Max(d.EndFreq, p.EndFreqs[i])
	}
	return d
}

// Validate 檢查各欄位長度是否一致
func (p *VdsPartDesc) Validate() error {
	if len(p.StartFreqs) != len(p.NChan) || len(p.EndFreqs) != len(p.NChan) {
		return fmt.Errorf("part %q: NChan/StartFreqs/EndFreqs lengths differ (%d/%d/%d)",
			p.Name, len(p.NChan), len(p.StartFreqs), len(p.EndFreqs))
	}
	if len(p.Ant1) != len(p.Ant2) {
		return fmt.Errorf("part %q: %w: %d vs %d", p.Name, ErrBaselineMismatch, len(p.Ant1), len(p.Ant2))
	}
	if p.StartTime > p.EndTime {
		return fmt.Errorf("part %q: %w: time [%g, %g)", p.Name, ErrMalformedDomain, p.StartTime, p.EndTime)
	}
	return nil
}

// WriteParset 將分片描述寫入 ps，每個鍵加上 prefix
func (p *VdsPartDesc) WriteParset(ps *parset.Set, prefix string) {
	ps.Add(prefix+"Name", p.Name)
	ps.Add(prefix+"FileSys", p.FileSys)
	ps.AddFloat(prefix+"StartTime", p.StartTime)
	ps.AddFloat(prefix+"EndTime", p.EndTime)
	ps.AddInts(prefix+"NChan", p.NChan)
	ps.AddFloats(prefix+"StartFreqs", p.StartFreqs)
	ps.AddFloats(prefix+"EndFreqs", p.EndFreqs)
	ps.AddInts(prefix+"Ant1", p.Ant1)
	ps.AddInts(prefix+"Ant2", p.Ant2)
}

// ToParset 轉換為 parset 格式
func (p *VdsPartDesc) ToParset() *parset.Set {
	ps := parset.New()
	p.WriteParset(ps, "")
	return ps
}

// VdsPartDescFromParset 從 parset 讀取分片描述
func VdsPartDescFromParset(ps *parset.Set) (VdsPartDesc, error) {
	var (
		p   VdsPartDesc
		err error
	)
	if p.Name, err = ps.String("Name"); err != nil {
		return VdsPartDesc{}, err
	}
	p.FileSys = ps.StringOr("FileSys", "")
	if p.StartTime, err = ps.Float("StartTime"); err != nil {
		return VdsPartDesc{}, err
	}
	if p.EndTime, err = ps.Float("EndTime"); err != nil {
		return VdsPartDesc{}, err
	}
	if p.NChan, err = optionalInts(ps, "NChan"); err != nil {
		return VdsPartDesc{}, err
	}
	if p.StartFreqs, err = optionalFloats(ps, "StartFreqs"); err != nil {
		return VdsPartDesc{}, err
	}
	if p.EndFreqs, err = optionalFloats(ps, "EndFreqs"); err != nil {
		return VdsPartDesc{}, err
	}
	if p.Ant1, err = optionalInts(ps, "Ant1"); err != nil {
		return VdsPartDesc{}, err
	}
	if p.Ant2, err = optionalInts(ps, "Ant2"); err != nil {
		return VdsPartDesc{}, err
	}
	if err := p.Validate(); err != nil {
		return VdsPartDesc{}, err
	}
	return p, nil
}

func optionalInts(ps *parset.Set, key string) ([]int, error) {
	if !ps.Has(key) {
		return nil, nil
	}
	return ps.Ints(key)
}

func optionalFloats(ps *parset.Set, key string) ([]float64, error) {
	if !ps.Has(key) {
		return nil, nil
	}
	return ps.Floats(key)
}

// ============================================================================
// VdsDesc
// ============================================================================

// VdsDesc 整個資料集的描述
type VdsDesc struct {
	Desc     VdsPartDesc   // 整體描述（名稱、時間範圍、頻帶）
	Parts    []VdsPartDesc // 各分片
	AntNames []string      // 天線名稱表，索引即為 Ant1/Ant2 中的編號
}

// NewVdsDesc 建立資料集描述
func NewVdsDesc(desc VdsPartDesc, antNames []string) *VdsDesc {
	return &VdsDesc{Desc: desc, AntNames: append([]string(nil), antNames...)}
}

// AddPart 加入分片
func (v *VdsDesc) AddPart(p VdsPartDesc) {
	v.Parts = append(v.Parts, p)
}

// AntennaIndex 線性查詢天線名稱，找不到時回傳 -1
func (v *VdsDesc) AntennaIndex(name string) int {
	for i, n := range v.AntNames {
		if n == name {
			return i
		}
	}
	return -1
}

// AntennaIndices 將名稱清單轉換為索引，找不到的名稱會被略過
func (v *VdsDesc) AntennaIndices(names []string) []int {
	var out []int
	for _, name := range names {
		if i := v.AntennaIndex(name); i >= 0 {
			out = append(out, i)
		}
	}
	return out
}

// PartsOnFileSys 回傳位於 fs 的分片索引
func (v *VdsDesc) PartsOnFileSys(fs string) []int {
	var out []int
	for i, p := range v.Parts {
		if p.FileSys == fs {
			out = append(out, i)
		}
	}
	return out
}

// ToParset 轉換為 parset 格式
func (v *VdsDesc) ToParset() *parset.Set {
	ps := v.Desc.ToParset()
	ps.AddStrings("AntNames", v.AntNames)
	ps.AddInt("NParts", len(v.Parts))
	for i := range v.Parts {
		v.Parts[i].WriteParset(ps, fmt.Sprintf("Part%d.", i))
	}
	return ps
}

// VdsDescFromParset 從 parset 讀取資料集描述
func VdsDescFromParset(ps *parset.Set) (*VdsDesc, error) {
	// 整體描述使用沒有前綴的鍵，分片使用 PartI. 前綴
	desc, err := VdsPartDescFromParset(ps)
	if err != nil {
		return nil, err
	}
	v := NewVdsDesc(desc, ps.StringsOr("AntNames"))

	nparts, err := ps.Int("NParts")
	if err != nil {
		return nil, err
	}
	for i := 0; i < nparts; i++ {
		prefix := fmt.Sprintf("Part%d.", i)
		part, err := VdsPartDescFromParset(ps.Subset(prefix))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prefix, err)
		}
		v.AddPart(part)
	}
	return v, nil
}

// WriteFile 寫入資料集描述檔
func (v *VdsDesc) WriteFile(path string) error {
	return v.ToParset().WriteFile(path)
}

// ReadVdsDescFile 讀取資料集描述檔
func ReadVdsDescFile(path string) (*VdsDesc, error) {
	ps, err := parset.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := VdsDescFromParset(ps)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
