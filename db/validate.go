package db

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var optionsValidator = validator.New()

// ValidateOptions 校验后端选项结构体上的 validate 标签
func ValidateOptions(options any) error {
	if err := optionsValidator.Struct(options); err != nil {
		return errors.Wrap(err, "invalid options")
	}
	return nil
}
