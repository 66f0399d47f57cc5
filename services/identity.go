package services

import (
	"log"
	"strings"

	"golang.org/x/sync/singleflight"

	"derby-service/models"
)

// Resolver 把人类可读的party hint解析为账本分配的party id
// 解析结果缓存在投影中，同一hint在进程生命周期内始终解析到同一party
type Resolver struct {
	ledger Ledger
	state  *AppState
	group  singleflight.Group
}

// NewResolver 创建identity resolver
func NewResolver(l Ledger, state *AppState) *Resolver {
	return &Resolver{ledger: l, state: state}
}

// Resolve 解析hint对应的party
// 先查缓存，再尝试分配；分配失败时回退到party目录按前缀匹配
func (r *Resolver) Resolve(hint string) (string, error) {
	if party, ok := r.state.Party(hint); ok {
		return party, nil
	}

	// 并发解析同一hint时只发起一次分配
	result, err, _ := r.group.Do(hint, func() (interface{}, error) {
		if party, ok := r.state.Party(hint); ok {
			return party, nil
		}

		party, err := r.ledger.AllocateParty(hint)
		if err != nil {
			log.Printf("[Identity] Allocation failed for hint=%s, falling back to party listing: %v", hint, err)
			party, err = r.lookupParty(hint)
			if err != nil {
				return "", err
			}
		}

		r.state.SetParty(hint, party)
		log.Printf("[Identity] Resolved hint=%s -> %s", hint, party)
		return party, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// lookupParty 在party目录中按hint前缀查找
func (r *Resolver) lookupParty(hint string) (string, error) {
	parties, err := r.ledger.ListParties(hint)
	if err != nil || len(parties) == 0 {
		// 带filter的查询可能不被支持，退化为全量列表
		parties, err = r.ledger.ListParties("")
		if err != nil {
			return "", &models.IdentityUnresolvableError{Hint: hint}
		}
	}

	for _, party := range parties {
		if strings.HasPrefix(party, hint+"::") {
			return party, nil
		}
	}
	for _, party := range parties {
		if strings.Contains(party, hint+"::") {
			return party, nil
		}
	}

	return "", &models.IdentityUnresolvableError{Hint: hint}
}
