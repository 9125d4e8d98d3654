package backend

import (
	"context"
	"encoding/json"
	"time"
)

// TaskID identifies a background task on the backend
type TaskID int64

// TaskType names the kind of work a background task performs
type TaskType string

const (
	TaskDefiBalances          TaskType = "defi_balances"
	TaskDefiAirdrops          TaskType = "defi_airdrops"
	TaskDSRBalance            TaskType = "makerdao_dsr_balance"
	TaskDSRHistory            TaskType = "makerdao_dsr_history"
	TaskMakerDAOVaults        TaskType = "makerdao_vaults"
	TaskMakerDAOVaultDetails  TaskType = "makerdao_vault_details"
	TaskAaveBalances          TaskType = "aave_balances"
	TaskAaveHistory           TaskType = "aave_history"
	TaskCompoundBalances      TaskType = "compound_balances"
	TaskCompoundHistory       TaskType = "compound_history"
	TaskYearnVaultsBalances   TaskType = "yearn_vaults_balances"
	TaskYearnVaultsHistory    TaskType = "yearn_vaults_history"
	TaskYearnVaultsV2Balances TaskType = "yearn_vaults_v2_balances"
	TaskYearnVaultsV2History  TaskType = "yearn_vaults_v2_history"
	TaskUniswapBalances       TaskType = "uniswap_balances"
	TaskUniswapTrades         TaskType = "uniswap_trades"
	TaskUniswapEvents         TaskType = "uniswap_events"
	TaskBalancerBalances      TaskType = "balancer_balances"
	TaskBalancerEvents        TaskType = "balancer_events"
	TaskSushiswapBalances     TaskType = "sushiswap_balances"
	TaskSushiswapEvents       TaskType = "sushiswap_events"
	TaskLiquityBalances       TaskType = "liquity_balances"
	TaskLiquityEvents         TaskType = "liquity_events"
	TaskUpdatePrices          TaskType = "update_prices"
	TaskFetchHistoricPrice    TaskType = "fetch_historic_price"
)

// Meta describes a task for the pending-task listing
type Meta struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TaskInfo is a task that is currently being awaited
type TaskInfo struct {
	ID        TaskID    `json:"id"`
	Type      TaskType  `json:"type"`
	Meta      Meta      `json:"meta"`
	StartedAt time.Time `json:"started_at"`
}

// Request describes one call to the backend API
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   any
}

// TaskRunner submits background tasks and waits for their outcome
type TaskRunner interface {
	// Submit starts the request as a background task and returns its id
	Submit(ctx context.Context, req Request) (TaskID, error)

	// AwaitRaw blocks until the task completes and returns its raw result.
	// It fails with a task_failed or task_not_found Error when the backend
	// reports a failure or cannot locate the task.
	AwaitRaw(ctx context.Context, id TaskID, taskType TaskType, meta Meta) (json.RawMessage, error)
}

// Querier performs synchronous backend queries
type Querier interface {
	QueryRaw(ctx context.Context, req Request) (json.RawMessage, error)
}

// Await waits for a submitted task and decodes its result into T
func Await[T any](ctx context.Context, r TaskRunner, id TaskID, taskType TaskType, meta Meta) (T, error) {
	var zero T

	raw, err := r.AwaitRaw(ctx, id, taskType, meta)
	if err != nil {
		return zero, err
	}

	return decode[T](raw, string(taskType))
}

// Run submits req as a background task and waits for its decoded result
func Run[T any](ctx context.Context, r TaskRunner, req Request, taskType TaskType, meta Meta) (T, error) {
	var zero T

	id, err := r.Submit(ctx, req)
	if err != nil {
		return zero, err
	}

	return Await[T](ctx, r, id, taskType, meta)
}

// Query performs a synchronous query and decodes its result into T
func Query[T any](ctx context.Context, q Querier, req Request) (T, error) {
	var zero T

	raw, err := q.QueryRaw(ctx, req)
	if err != nil {
		return zero, err
	}

	return decode[T](raw, req.Path)
}

func decode[T any](raw json.RawMessage, what string) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, NewValidationError("failed to decode result of "+what, err)
	}
	return out, nil
}
