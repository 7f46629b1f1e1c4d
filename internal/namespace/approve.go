package namespace

import (
	"slices"

	"github.com/aegis-sign/wcsigner/pkg/apierrors"
)

// ErrNoSupportedNamespace 表示请求与本地能力没有可用交集。
var ErrNoSupportedNamespace = apierrors.New(apierrors.CodeNoSupportedNamespace, "no supported namespace")

type requested struct {
	chains  []string
	methods []string
	events  []string
}

// Approve 计算 proposal 与本地能力的交集。账户只取自 accounts（命名空间 → 地址），
// 输出顺序遵循 capabilities 的配置顺序。
func Approve(proposal Proposal, capabilities Capabilities, accounts map[string]string) (ApprovedNamespaces, error) {
	wanted := mergeRequested(proposal.RequiredNamespaces, proposal.OptionalNamespaces)

	approved := ApprovedNamespaces{}
	for _, capability := range capabilities {
		req, ok := wanted[capability.Namespace]
		if !ok {
			continue
		}
		address := accounts[capability.Namespace]
		if address == "" {
			continue
		}
		// 提议未列出链时，按本地配置的全部链处理。
		chains := capability.Chains
		if len(req.chains) > 0 {
			chains = intersect(capability.Chains, req.chains)
		}
		methods := intersect(capability.Methods, req.methods)
		if len(chains) == 0 || len(methods) == 0 {
			continue
		}
		ns := Namespace{
			Namespace: capability.Namespace,
			Chains:    chains,
			Methods:   methods,
			Events:    intersect(capability.Events, req.events),
			Accounts:  make([]string, 0, len(chains)),
		}
		for _, chain := range chains {
			ns.Accounts = append(ns.Accounts, chain+":"+address)
		}
		approved = append(approved, ns)
	}
	if len(approved) == 0 {
		return nil, ErrNoSupportedNamespace
	}
	return approved, nil
}

// mergeRequested 合并 required/optional 命名空间，并把 "eip155:1" 这类按链声明的键归入所属命名空间。
func mergeRequested(sets ...map[string]RequestedNamespace) map[string]*requested {
	out := make(map[string]*requested)
	for _, set := range sets {
		for key, ns := range set {
			name, ref := SplitChain(key)
			entry := out[name]
			if entry == nil {
				entry = &requested{}
				out[name] = entry
			}
			if ref != "" {
				entry.chains = appendUnique(entry.chains, key)
			}
			entry.chains = appendUnique(entry.chains, ns.Chains...)
			entry.methods = appendUnique(entry.methods, ns.Methods...)
			entry.events = appendUnique(entry.events, ns.Events...)
		}
	}
	return out
}

// intersect 返回 local 中同时出现在 remote 的元素，保持 local 的顺序。
func intersect(local, remote []string) []string {
	out := make([]string, 0, len(local))
	for _, item := range local {
		if slices.Contains(remote, item) {
			out = append(out, item)
		}
	}
	return out
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}
