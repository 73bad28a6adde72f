package preprocessing

import (
	"sort"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// UnknownCategory はフィット時に観測されなかった値（欠損を含む）のバケット名
const UnknownCategory = "__unknown__"

// OneHotEncoder はカテゴリ列を One-Hot 表現に変換する
//
// 各列の語彙はフィット時に観測された値をソートしたもので、その後ろに
// 未知カテゴリ用のバケットが1つ続く。未知の値や空文字列（欠損）は
// エラーにせず未知バケットに割り当てる。
type OneHotEncoder struct {
	// Categories は列ごとのソート済み語彙
	Categories [][]string

	// Fitted は学習済みかどうか
	Fitted bool
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{}
}

// Fit は列ごとの語彙を学習する
//
// パラメータ:
//   - X: X[i][j] は i 行目 j 列目の値。空文字列は欠損として扱い語彙に含めない
func (e *OneHotEncoder) Fit(X [][]string) error {
	if len(X) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	nCols := len(X[0])
	seen := make([]map[string]struct{}, nCols)
	for j := range seen {
		seen[j] = make(map[string]struct{})
	}
	for _, row := range X {
		if len(row) != nCols {
			return errors.NewDimensionError("OneHotEncoder.Fit", nCols, len(row), 1)
		}
		for j, v := range row {
			if v != "" {
				seen[j][v] = struct{}{}
			}
		}
	}

	e.Categories = make([][]string, nCols)
	for j, set := range seen {
		cats := make([]string, 0, len(set))
		for v := range set {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		e.Categories[j] = cats
	}
	e.Fitted = true
	return nil
}

// lookup は j 列目における v の位置を返す。未知の値は len(Categories[j])
func (e *OneHotEncoder) lookup(j int, v string) int {
	cats := e.Categories[j]
	k := sort.SearchStrings(cats, v)
	if v == "" || k == len(cats) || cats[k] != v {
		return len(cats)
	}
	return k
}

// NOutputs は出力列数（各列の語彙数+1 の合計）を返す
func (e *OneHotEncoder) NOutputs() int {
	n := 0
	for _, cats := range e.Categories {
		n += len(cats) + 1
	}
	return n
}

// encodeRow は1行を out に書き込む。out の長さは NOutputs() でなければならない
func (e *OneHotEncoder) encodeRow(row []string, out []float64) {
	offset := 0
	for j, cats := range e.Categories {
		for k := 0; k <= len(cats); k++ {
			out[offset+k] = 0
		}
		out[offset+e.lookup(j, row[j])] = 1
		offset += len(cats) + 1
	}
}

// Transform は X を One-Hot 行列に変換する
func (e *OneHotEncoder) Transform(X [][]string) (*mat.Dense, error) {
	if !e.Fitted {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	if len(X) == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}
	width := e.NOutputs()
	result := mat.NewDense(len(X), width, nil)
	for i, row := range X {
		if len(row) != len(e.Categories) {
			return nil, errors.NewDimensionError("OneHotEncoder.Transform", len(e.Categories), len(row), 1)
		}
		e.encodeRow(row, result.RawRowView(i))
	}
	return result, nil
}

// FeatureNames は出力列名を "列名=値" 形式で返す
func (e *OneHotEncoder) FeatureNames(inputNames []string) []string {
	names := make([]string, 0, e.NOutputs())
	for j, cats := range e.Categories {
		for _, v := range cats {
			names = append(names, inputNames[j]+"="+v)
		}
		names = append(names, inputNames[j]+"="+UnknownCategory)
	}
	return names
}
