package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/subscription"
	"github.com/roach88/storeweave/internal/undo"
)

// FetchFunc loads count todo titles.
type FetchFunc func(ctx context.Context, count int) ([]string, error)

// DefaultFetch returns "todo 1" ... "todo count". A negative count fails.
func DefaultFetch(_ context.Context, count int) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("fetch todos: invalid count %d", count)
	}
	titles := make([]string, count)
	for i := range titles {
		titles[i] = fmt.Sprintf("todo %d", i+1)
	}
	return titles, nil
}

// Bindings returns the Go handlers referenced by the demo manifests.
func Bindings(cfg Config) compiler.Bindings {
	cfg = cfg.withDefaults()
	editorUndo := undo.ForNamespace("editor")
	editorUndo.Limit = cfg.UndoLimit

	return compiler.Bindings{
		"counter.increment":      ir.ReducerFunc(func(state any, _ ir.Action) any { return toInt(state) + 1 }),
		"counter.decrement":      ir.ReducerFunc(func(state any, _ ir.Action) any { return toInt(state) - 1 }),
		"counter.add":            ir.ReducerFunc(counterAdd),
		"counter.reset":          ir.ReducerFunc(func(any, ir.Action) any { return 0 }),
		"counter.incrementAsync": ir.EffectFunc(incrementAsync),

		"todos.add":          ir.ReducerFunc(todosAdd),
		"todos.toggle":       ir.ReducerFunc(todosToggle),
		"todos.fetchPrepare": ir.ReducerFunc(todosFetchPrepare),
		"todos.fetch":        ir.EffectFunc(todosFetch(cfg.Fetch)),
		"todos.fetchSucceed": ir.ReducerFunc(todosFetchSucceed),
		"todos.fetchFail":    ir.ReducerFunc(todosFetchFail),

		"editor.type":  ir.ReducerFunc(editorType),
		"editor.clear": ir.ReducerFunc(func(any, ir.Action) any { return map[string]any{"text": ""} }),
		"editor.undo":  undo.Enhancer(editorUndo),

		"clock.tick":   ir.ReducerFunc(clockTick),
		"clock.ticker": subscription.Every(cfg.TickInterval, ir.NewAction("tick", nil)),
	}
}

func counterAdd(state any, action ir.Action) any {
	var p struct {
		By int `json:"by"`
	}
	if err := ir.DecodePayload(action, &p); err != nil {
		panic(err)
	}
	return toInt(state) + p.By
}

func incrementAsync(fx ir.Effects, action ir.Action) error {
	p := struct {
		Delay time.Duration `json:"delay"`
	}{Delay: 10 * time.Millisecond}
	if action.Payload != nil {
		if err := ir.DecodePayload(action, &p); err != nil {
			return err
		}
	}
	if err := fx.Delay(p.Delay); err != nil {
		return err
	}
	return fx.Put(ir.NewAction("increment", nil))
}

func todosAdd(state any, action ir.Action) any {
	var p struct {
		Title string `json:"title"`
	}
	if err := ir.DecodePayload(action, &p); err != nil {
		panic(err)
	}
	next := cloneMap(state)
	items := items(next)
	items = append(items, map[string]any{"id": len(items) + 1, "title": p.Title, "done": false})
	next["items"] = items
	return next
}

func todosToggle(state any, action ir.Action) any {
	var p struct {
		ID int `json:"id"`
	}
	if err := ir.DecodePayload(action, &p); err != nil {
		panic(err)
	}
	next := cloneMap(state)
	var out []any
	for _, it := range items(next) {
		item := cloneMap(it)
		if toInt(item["id"]) == p.ID {
			done, _ := item["done"].(bool)
			item["done"] = !done
		}
		out = append(out, item)
	}
	next["items"] = out
	return next
}

func todosFetchPrepare(state any, _ ir.Action) any {
	next := cloneMap(state)
	next["loading"] = true
	next["error"] = ""
	return next
}

func todosFetch(fetch FetchFunc) ir.EffectFunc {
	return func(fx ir.Effects, action ir.Action) error {
		var p struct {
			Count int `json:"count"`
		}
		if action.Payload != nil {
			if err := ir.DecodePayload(action, &p); err != nil {
				return err
			}
		}

		titles, err := fx.Call(func(ctx context.Context) (any, error) {
			return fetch(ctx, p.Count)
		})
		if err != nil {
			return fx.Callback("fail", err.Error())
		}
		return fx.Callback("succeed", titles)
	}
}

func todosFetchSucceed(state any, action ir.Action) any {
	var titles []string
	if err := ir.DecodePayload(action, &titles); err != nil {
		panic(err)
	}
	next := cloneMap(state)
	out := make([]any, 0, len(titles))
	for i, title := range titles {
		out = append(out, map[string]any{"id": i + 1, "title": title, "done": false})
	}
	next["items"] = out
	next["loading"] = false
	return next
}

func todosFetchFail(state any, action ir.Action) any {
	next := cloneMap(state)
	next["loading"] = false
	next["error"] = fmt.Sprint(action.Payload)
	return next
}

func editorType(state any, action ir.Action) any {
	var p struct {
		Text string `json:"text"`
	}
	if err := ir.DecodePayload(action, &p); err != nil {
		panic(err)
	}
	next := cloneMap(state)
	current, _ := next["text"].(string)
	next["text"] = current + p.Text
	return next
}

func clockTick(state any, _ ir.Action) any {
	next := cloneMap(state)
	next["ticks"] = toInt(next["ticks"]) + 1
	return next
}

// toInt reads a number from a slice state. CUE, YAML and the journal each
// deliver integers with a different Go type.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	default:
		return 0
	}
}

func cloneMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	out := make(map[string]any, len(m)+1)
	maps.Copy(out, m)
	return out
}

func items(state map[string]any) []any {
	list, _ := state["items"].([]any)
	return append([]any(nil), list...)
}
