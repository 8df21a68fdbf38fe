package handlers

import (
	"fmt"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the domain tags used in DTO binding rules to gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
		return domain.IsValidCapability(domain.Capability(fl.Field().String()))
	}); err != nil {
		return err
	}
	return v.RegisterValidation("schedule_type", func(fl validator.FieldLevel) bool {
		switch domain.ScheduleType(fl.Field().String()) {
		case domain.ScheduleDaily, domain.ScheduleWeekly, domain.ScheduleMonthly:
			return true
		}
		return false
	})
}
