package executor

import "errors"

// Ошибки исполнителей.
var (
	// ErrUnknownAgent — нет исполнителя для agent_id и не задан fallback.
	ErrUnknownAgent = errors.New("no executor for agent")

	// ErrGatewayRequest — запрос к agent gateway завершился ошибкой.
	ErrGatewayRequest = errors.New("agent gateway request failed")

	// ErrGatewayResponse — gateway вернул некорректный ответ.
	ErrGatewayResponse = errors.New("agent gateway returned invalid response")

	// ErrPlannerRequest — запрос к планировщику завершился ошибкой.
	ErrPlannerRequest = errors.New("planner request failed")
)
