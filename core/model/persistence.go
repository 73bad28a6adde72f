package model

import (
	"encoding/gob"
	"io"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

// SaveModelToWriter はモデルを gob 形式で io.Writer に保存する
//
// インターフェース型のフィールド（例: model.Classifier）を含む場合、
// 具象型を事前に gob.Register しておく必要がある。
//
// 使用例:
//
//	var buf bytes.Buffer
//	err := model.SaveModelToWriter(bundle, &buf)
func SaveModelToWriter(m interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader は io.Reader からモデルを読み込む
//
// パラメータ:
//   - m: 読み込み先のモデル（ポインタ）
//   - r: 読み込み元のReader
func LoadModelFromReader(m interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
