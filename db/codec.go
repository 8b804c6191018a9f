package db

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// EncodeDoc 模型 → 文档表示。统一走 bson 编解码器，
// 两个后端共用同一组 bson 标签，保证往返一致。
func EncodeDoc[T any](model *T) (map[string]any, error) {
	raw, err := bson.Marshal(model)
	if err != nil {
		return nil, errors.Wrap(err, "encode model")
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "encode model")
	}
	return map[string]any(doc), nil
}

// DecodeDoc 文档表示 → 模型
func DecodeDoc[T any](doc map[string]any) (*T, error) {
	raw, err := bson.Marshal(bson.M(doc))
	if err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	model := new(T)
	if err := bson.Unmarshal(raw, model); err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	return model, nil
}
