package execpath

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/teranos/pact/errors"
)

// Message is one turn of the reconstructed conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type recordedMessage struct {
	fields map[string]any
	output bool
}

// Conversation rebuilds the user/assistant dialogue from the messages each
// state logged as input and output. Messages are identified by a hash of
// their content; the per-state orders are merged topologically. Empty
// messages and tool results are left out.
func (p *ExecutionPath) Conversation() ([]Message, error) {
	messages := make(map[string]recordedMessage)
	var orders [][]string

	for _, s := range p.States {
		seen := make(map[string]bool)
		var local []string
		record := func(raw []any, output bool) {
			for _, item := range raw {
				fields := messageFields(item)
				content, ok := fields["content"].(string)
				if !ok {
					continue
				}
				sum := sha256.Sum256([]byte(content))
				id := hex.EncodeToString(sum[:])
				if seen[id] {
					continue
				}
				seen[id] = true
				local = append(local, id)
				messages[id] = recordedMessage{fields: fields, output: output}
			}
		}
		record(stateMessages(s.Info, "input"), false)
		record(stateMessages(s.Info, "output"), true)
		orders = append(orders, local)
	}

	order, err := mergeOrders(orders)
	if err != nil {
		return nil, errors.Wrapf(err, "conversation of trace %s", p.TraceID)
	}

	out := make([]Message, 0, len(order))
	for _, id := range order {
		m := messages[id]
		content, _ := m.fields["content"].(string)
		if content == "" {
			continue
		}
		if _, tool := m.fields["tool_call_id"]; tool {
			continue
		}
		role := "user"
		if m.output || truthy(m.fields["response_metadata"]) {
			role = "assistant"
		}
		out = append(out, Message{Role: role, Content: content})
	}
	return out, nil
}

func stateMessages(info map[string]any, key string) []any {
	section, ok := info[key].(map[string]any)
	if !ok {
		return nil
	}
	msgs, _ := section["messages"].([]any)
	return msgs
}

func messageFields(item any) map[string]any {
	switch v := item.(type) {
	case string:
		return parseKV(v)
	case map[string]any:
		return v
	}
	return map[string]any{}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

// mergeOrders returns an order consistent with every partial order, or
// MalformedInput when the partial orders contradict each other.
func mergeOrders(orders [][]string) ([]string, error) {
	indegree := make(map[string]int)
	var nodes []string
	for _, o := range orders {
		for _, id := range o {
			if _, ok := indegree[id]; !ok {
				indegree[id] = 0
				nodes = append(nodes, id)
			}
		}
	}

	edges := make(map[string][]string)
	hasEdge := make(map[[2]string]bool)
	for _, o := range orders {
		for i := 0; i+1 < len(o); i++ {
			e := [2]string{o[i], o[i+1]}
			if hasEdge[e] {
				continue
			}
			hasEdge[e] = true
			edges[o[i]] = append(edges[o[i]], o[i+1])
			indegree[o[i+1]]++
		}
	}

	var queue []string
	for _, id := range nodes {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range edges[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(nodes) {
		return nil, errors.NewMalformedInputError("message order has a cycle")
	}
	return order, nil
}
