package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/educhain/educhain/core"
)

const orderingParam = "ordering"

// Ordering binds the `ordering` query parameter, e.g. `?ordering=-amount,created_at`.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	SuspendRequest struct {
		Suspended bool `json:"suspended"`
	}

	ReconcileResponse struct {
		Resolved int `json:"resolved"`
	}

	ReportRequest struct {
		Year  int      `json:"year"`
		Month int      `json:"month"`
		To    []string `json:"to" validate:"required,min=1,dive,email"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func (rr *ReportRequest) Validate(validate *validator.Validate) error {
	for i, addr := range rr.To {
		rr.To[i] = core.CleanString(addr, true /* lower */)
	}
	return validate.Struct(rr)
}
