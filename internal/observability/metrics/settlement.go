package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type settlementCollector struct {
	mu     sync.Mutex
	counts map[string]uint64
	value  map[string]uint64
	fees   uint64
}

var settlement = &settlementCollector{
	counts: make(map[string]uint64),
	value:  make(map[string]uint64),
}

// ObserveSettlement 记录一次结算事件及其涉及的金额与协议费。
func ObserveSettlement(eventType string, amount, fee uint64) {
	settlement.mu.Lock()
	defer settlement.mu.Unlock()
	settlement.counts[eventType]++
	settlement.value[eventType] += amount
	settlement.fees += fee
}

func (c *settlementCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	types := make([]string, 0, len(c.counts))
	for eventType := range c.counts {
		types = append(types, eventType)
	}
	sort.Strings(types)

	var builder strings.Builder
	builder.WriteString("# HELP agentpay_settlement_events_total Total number of settlement events by type.\n")
	builder.WriteString("# TYPE agentpay_settlement_events_total counter\n")
	for _, eventType := range types {
		builder.WriteString(fmt.Sprintf("agentpay_settlement_events_total{type=\"%s\"} %d\n",
			escape(eventType), c.counts[eventType]))
	}

	builder.WriteString("# HELP agentpay_settlement_value_total Total minor units moved by settlement events, by type.\n")
	builder.WriteString("# TYPE agentpay_settlement_value_total counter\n")
	for _, eventType := range types {
		builder.WriteString(fmt.Sprintf("agentpay_settlement_value_total{type=\"%s\"} %d\n",
			escape(eventType), c.value[eventType]))
	}

	builder.WriteString("# HELP agentpay_settlement_fees_total Total protocol fees collected, in minor units.\n")
	builder.WriteString("# TYPE agentpay_settlement_fees_total counter\n")
	builder.WriteString(fmt.Sprintf("agentpay_settlement_fees_total %d\n", c.fees))

	return builder.String()
}
