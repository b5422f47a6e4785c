// Package fbip reports which releases were turned into in-place reuse and which were not.
//
// Reports never change the IR. They are meant for an external renderer.
package fbip

import (
	"io"

	"github.com/segmentio/encoding/json"
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/arc/compiler/ir"
	"github.com/slowlang/arc/compiler/reuse"
)

type (
	Report struct {
		Func     string     `json:"func"`
		Achieved []Achieved `json:"achieved,omitempty"`
		Missed   []Missed   `json:"missed,omitempty"`

		// FBIP is set when the function reuses at least once and misses nothing.
		FBIP bool `json:"fbip"`
	}

	Achieved struct {
		Var       ir.Var     `json:"var"`
		Dst       ir.Var     `json:"dst"`
		Type      ir.TypeID  `json:"type"`
		Release   ir.BlockID `json:"release"`
		Construct ir.BlockID `json:"construct"`
		Span      *ir.Span   `json:"span,omitempty"`
	}

	Missed struct {
		Var    ir.Var       `json:"var"`
		Type   ir.TypeID    `json:"type"`
		Block  ir.BlockID   `json:"block"`
		Reason reuse.Reason `json:"reason"`
		Span   *ir.Span     `json:"span,omitempty"`
	}
)

// Analyze builds the report of f from the detection result.
// Spans point to the construction for achieved reuse and to the released value definition for misses.
func Analyze(f *ir.Func, det *reuse.Detection) Report {
	r := Report{Func: f.Name}

	if det == nil {
		return r
	}

	for _, p := range det.Pairs {
		r.Achieved = append(r.Achieved, Achieved{
			Var:       p.Var,
			Dst:       p.Dst,
			Type:      p.Type,
			Release:   p.Release,
			Construct: p.Construct,
			Span:      span(f, p.Dst),
		})
	}

	for _, m := range det.Missed {
		r.Missed = append(r.Missed, Missed{
			Var:    m.Var,
			Type:   m.Type,
			Block:  m.Block,
			Reason: m.Reason,
			Span:   span(f, m.Var),
		})
	}

	r.FBIP = len(r.Achieved) != 0 && len(r.Missed) == 0

	return r
}

// Reasons counts misses by reason.
func (r Report) Reasons() map[reuse.Reason]int {
	m := map[reuse.Reason]int{}

	for _, x := range r.Missed {
		m[x.Reason]++
	}

	return m
}

// Encode writes reports as a JSON array.
func Encode(w io.Writer, rs []Report) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")

	if rs == nil {
		rs = []Report{}
	}

	err := e.Encode(rs)
	if err != nil {
		return errors.Wrap(err, "encode fbip report")
	}

	return nil
}

// Decode reads reports written by Encode.
func Decode(data []byte) (rs []Report, err error) {
	err = json.Unmarshal(data, &rs)
	if err != nil {
		return nil, errors.Wrap(err, "decode fbip report")
	}

	return rs, nil
}

func (r Report) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)

	b = e.AppendKeyValue(b, "func", r.Func)
	b = e.AppendKeyInt(b, "achieved", len(r.Achieved))
	b = e.AppendKeyInt(b, "missed", len(r.Missed))
	b = e.AppendKeyValue(b, "fbip", r.FBIP)

	return b
}

func span(f *ir.Func, v ir.Var) *ir.Span {
	sp := f.Span(v)
	if sp == (ir.Span{}) {
		return nil
	}

	return &sp
}
