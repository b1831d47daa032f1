package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/chefeye/internal/entity"
	service "github.com/Additional-Code/chefeye/internal/service/order"
	"github.com/Additional-Code/chefeye/pkg/errorbank"
)

type stubService struct {
	createErr   error
	gotCustomer string
	gotItems    []service.LineItem
	gotStatus   entity.OrderStatus
	order       *entity.Order
}

func (s *stubService) Create(_ context.Context, customerID string, items []service.LineItem) (*entity.Order, error) {
	s.gotCustomer = customerID
	s.gotItems = items
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.order, nil
}

func (s *stubService) Cancel(_ context.Context, id uuid.UUID, customerID string) (*entity.Order, error) {
	s.gotCustomer = customerID
	if id != s.order.ID {
		return nil, errorbank.NotFound("order not found", errorbank.WithReasons("Order not found"))
	}
	o := *s.order
	o.Status = entity.StatusCancelled
	return &o, nil
}

func (s *stubService) Get(_ context.Context, id uuid.UUID) (*entity.Order, error) {
	if id != s.order.ID {
		return nil, errorbank.NotFound("order not found")
	}
	return s.order, nil
}

func (s *stubService) AdvanceStatus(_ context.Context, _ uuid.UUID, next entity.OrderStatus) (*entity.Order, error) {
	s.gotStatus = next
	o := *s.order
	o.Status = next
	return &o, nil
}

func sampleOrder() *entity.Order {
	id := uuid.MustParse("7f1d8a0c-8f7e-4c84-9a57-1df0a6f3a0b1")
	return &entity.Order{
		ID:          id,
		CustomerID:  "alice",
		Status:      entity.StatusCreated,
		TotalAmount: decimal.RequireFromString("12.5"),
		CreatedAt:   time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC),
		Items: []*entity.OrderItem{{
			ID:         uuid.New(),
			OrderID:    id,
			MenuItemID: uuid.MustParse("98758b15-218d-4711-a0dd-f7a87e80197f"),
			Quantity:   2,
			UnitPrice:  decimal.RequireFromString("4.5"),
		}},
	}
}

func newTestServer(svc Service) *echo.Echo {
	e := echo.New()
	Register(e, &Handler{svc: svc})
	return e
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind    string   `json:"kind"`
		Reasons []string `json:"reasons"`
	} `json:"error"`
}

func do(t *testing.T, e *echo.Echo, method, target, customer, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if customer != "" {
		req.Header.Set(CustomerHeader, customer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestCreateOrder(t *testing.T) {
	svc := &stubService{order: sampleOrder()}
	e := newTestServer(svc)

	rec, env := do(t, e, http.MethodPost, "/orders", "alice",
		`{"items":[{"menu_item_id":"98758b15-218d-4711-a0dd-f7a87e80197f","quantity":2}]}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "alice", svc.gotCustomer)
	require.Len(t, svc.gotItems, 1)
	assert.Equal(t, 2, svc.gotItems[0].Quantity)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "7f1d8a0c-8f7e-4c84-9a57-1df0a6f3a0b1", data["id"])
	assert.Equal(t, "12.50", data["total_amount"])
	assert.Equal(t, "created", data["status"])
}

func TestCreateOrderRequiresCustomer(t *testing.T) {
	svc := &stubService{order: sampleOrder()}
	e := newTestServer(svc)

	rec, env := do(t, e, http.MethodPost, "/orders", "", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"X-Customer-ID header is required."}, env.Error.Reasons)
	assert.Nil(t, svc.gotItems)
}

func TestCreateOrderRejectsMalformedMenuItemID(t *testing.T) {
	e := newTestServer(&stubService{order: sampleOrder()})

	rec, env := do(t, e, http.MethodPost, "/orders", "alice", `{"items":[{"menu_item_id":"pancake","quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", env.Error.Kind)
}

func TestCreateOrderMapsRejections(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"limit", errorbank.LimitExceeded("limit", errorbank.WithReasons("Out of limit, reached maximum 200.")), http.StatusTooManyRequests, "limit_exceeded"},
		{"unknown item", errorbank.Unprocessable("unknown", errorbank.WithReasons("Menu item x does not exist.")), http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"backend", errorbank.Unavailable("down"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestServer(&stubService{order: sampleOrder(), createErr: tc.err})
			rec, env := do(t, e, http.MethodPost, "/orders", "alice",
				`{"items":[{"menu_item_id":"98758b15-218d-4711-a0dd-f7a87e80197f","quantity":1}]}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tc.kind, env.Error.Kind)
			assert.Equal(t, errorbank.From(tc.err).Reasons(), env.Error.Reasons)
		})
	}
}

func TestLimitRejectionSetsRetryAfter(t *testing.T) {
	e := newTestServer(&stubService{order: sampleOrder(), createErr: errorbank.LimitExceeded("limit")})
	rec, _ := do(t, e, http.MethodPost, "/orders", "alice",
		`{"items":[{"menu_item_id":"98758b15-218d-4711-a0dd-f7a87e80197f","quantity":1}]}`)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCancelOrder(t *testing.T) {
	svc := &stubService{order: sampleOrder()}
	e := newTestServer(svc)

	rec, env := do(t, e, http.MethodPatch, "/orders/7f1d8a0c-8f7e-4c84-9a57-1df0a6f3a0b1/cancel", "alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", svc.gotCustomer)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "cancelled", data["status"])

	rec, env = do(t, e, http.MethodPatch, "/orders/"+uuid.NewString()+"/cancel", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"Order not found"}, env.Error.Reasons)

	rec, _ = do(t, e, http.MethodPatch, "/orders/42/cancel", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder(t *testing.T) {
	e := newTestServer(&stubService{order: sampleOrder()})

	rec, env := do(t, e, http.MethodGet, "/orders/7f1d8a0c-8f7e-4c84-9a57-1df0a6f3a0b1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Items []struct {
			Quantity  int    `json:"quantity"`
			LineTotal string `json:"line_total"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Items, 1)
	assert.Equal(t, "9.00", data.Items[0].LineTotal)
}

func TestUpdateStatus(t *testing.T) {
	svc := &stubService{order: sampleOrder()}
	e := newTestServer(svc)

	rec, _ := do(t, e, http.MethodPatch, "/orders/7f1d8a0c-8f7e-4c84-9a57-1df0a6f3a0b1/status", "", `{"status":"order_accepted"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entity.StatusOrderAccepted, svc.gotStatus)

	rec, _ = do(t, e, http.MethodPatch, "/orders/7f1d8a0c-8f7e-4c84-9a57-1df0a6f3a0b1/status", "", `{"status":"teleported"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
