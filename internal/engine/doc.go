// Package engine разрешает зависимости плана.
//
// Включает:
//   - dag.go    — построение DAG из WorkflowPlan, поиск циклов, топологический порядок
//   - parser.go — чтение плана из YAML/JSON документа
//
// Engine не хранит состояния: BuildDAG — чистая функция плана,
// её можно вызывать сколько угодно раз.
package engine
