package namespace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Metadata 描述一端（发起方或本钱包）的展示信息。
type Metadata struct {
	Name        string   `json:"name" yaml:"name" toml:"name" validate:"required"`
	Description string   `json:"description" yaml:"description" toml:"description"`
	URL         string   `json:"url" yaml:"url" toml:"url" validate:"omitempty,url"`
	Icons       []string `json:"icons" yaml:"icons" toml:"icons"`
}

// Proposer 是会话提议的发起方。
type Proposer struct {
	PublicKey string   `json:"publicKey,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// RequestedNamespace 是远端对单个命名空间的诉求。
type RequestedNamespace struct {
	Chains  []string `json:"chains,omitempty"`
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// Proposal 是 wc_sessionPropose 的参数体。
type Proposal struct {
	ID                 int64                         `json:"id"`
	Proposer           Proposer                      `json:"proposer"`
	RequiredNamespaces map[string]RequestedNamespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]RequestedNamespace `json:"optionalNamespaces,omitempty"`
}

// Capability 是本地愿意服务的单个命名空间。
type Capability struct {
	Namespace string   `json:"namespace" yaml:"namespace" toml:"namespace" validate:"required,excludes=:"`
	Chains    []string `json:"chains" yaml:"chains" toml:"chains" validate:"required,min=1,dive,required,contains=:"`
	Methods   []string `json:"methods" yaml:"methods" toml:"methods" validate:"required,min=1,dive,required"`
	Events    []string `json:"events" yaml:"events" toml:"events" validate:"dive,required"`
}

// Capabilities 按配置顺序排列，顺序决定批准结果的输出顺序。
type Capabilities []Capability

// Validate 检查每个命名空间的结构，以及链 ID 是否属于所在命名空间。
func (c Capabilities) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("at least one namespace capability is required")
	}
	seen := make(map[string]struct{}, len(c))
	for i, capability := range c {
		if err := validate.Struct(capability); err != nil {
			return fmt.Errorf("capability[%d]: %w", i, err)
		}
		if _, dup := seen[capability.Namespace]; dup {
			return fmt.Errorf("capability[%d]: namespace %q configured twice", i, capability.Namespace)
		}
		seen[capability.Namespace] = struct{}{}
		for _, chain := range capability.Chains {
			if ns, _ := SplitChain(chain); ns != capability.Namespace {
				return fmt.Errorf("capability[%d]: chain %q is outside namespace %q", i, chain, capability.Namespace)
			}
		}
	}
	return nil
}

// Namespaces 返回配置中的命名空间名称。
func (c Capabilities) Namespaces() []string {
	out := make([]string, 0, len(c))
	for _, capability := range c {
		out = append(out, capability.Namespace)
	}
	return out
}

// Namespace 是批准结果中的单个命名空间。
type Namespace struct {
	Namespace string   `json:"-"`
	Chains    []string `json:"chains"`
	Methods   []string `json:"methods"`
	Events    []string `json:"events"`
	Accounts  []string `json:"accounts"`
}

// Allows 判断 method 是否可在 chain 上调用；chain 为空时只检查方法。
func (n Namespace) Allows(chain, method string) bool {
	if !slices.Contains(n.Methods, method) {
		return false
	}
	return chain == "" || slices.Contains(n.Chains, chain)
}

// ApprovedNamespaces 是有序的批准结果，JSON 编码为键顺序与配置一致的对象。
type ApprovedNamespaces []Namespace

// Allows 判断任一批准的命名空间是否覆盖 (chain, method)。
func (a ApprovedNamespaces) Allows(chain, method string) bool {
	for _, ns := range a {
		if ns.Allows(chain, method) {
			return true
		}
	}
	return false
}

// Lookup 按名称查找命名空间。
func (a ApprovedNamespaces) Lookup(name string) (Namespace, bool) {
	for _, ns := range a {
		if ns.Namespace == name {
			return ns, true
		}
	}
	return Namespace{}, false
}

// Accounts 返回全部 CAIP-10 账户。
func (a ApprovedNamespaces) Accounts() []string {
	var out []string
	for _, ns := range a {
		out = append(out, ns.Accounts...)
	}
	return out
}

// Equal 逐项比较两个批准结果，顺序敏感。
func (a ApprovedNamespaces) Equal(b ApprovedNamespaces) bool {
	return slices.EqualFunc(a, b, func(x, y Namespace) bool {
		return x.Namespace == y.Namespace &&
			slices.Equal(x.Chains, y.Chains) &&
			slices.Equal(x.Methods, y.Methods) &&
			slices.Equal(x.Events, y.Events) &&
			slices.Equal(x.Accounts, y.Accounts)
	})
}

// Clone 深拷贝批准结果，返回值不与 a 共享底层数组。
func (a ApprovedNamespaces) Clone() ApprovedNamespaces {
	if a == nil {
		return nil
	}
	out := make(ApprovedNamespaces, len(a))
	for i, ns := range a {
		out[i] = Namespace{
			Namespace: ns.Namespace,
			Chains:    slices.Clone(ns.Chains),
			Methods:   slices.Clone(ns.Methods),
			Events:    slices.Clone(ns.Events),
			Accounts:  slices.Clone(ns.Accounts),
		}
	}
	return out
}

// MarshalJSON 按切片顺序输出以命名空间为键的对象，保持配置中的键顺序。
func (a ApprovedNamespaces) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ns := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ns.Namespace)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(namespaceBody(ns))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按对象中键出现的顺序还原切片。
func (a *ApprovedNamespaces) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("approved namespaces: expected object, got %v", tok)
	}
	out := ApprovedNamespaces{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var body namespaceJSON
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("approved namespaces %q: %w", key, err)
		}
		out = append(out, Namespace{
			Namespace: key,
			Chains:    body.Chains,
			Methods:   body.Methods,
			Events:    body.Events,
			Accounts:  body.Accounts,
		})
	}
	*a = out
	return nil
}

type namespaceJSON struct {
	Chains   []string `json:"chains"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
	Accounts []string `json:"accounts"`
}

func namespaceBody(ns Namespace) namespaceJSON {
	return namespaceJSON{
		Chains:   nonNil(ns.Chains),
		Methods:  nonNil(ns.Methods),
		Events:   nonNil(ns.Events),
		Accounts: nonNil(ns.Accounts),
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// SplitChain 将 "eip155:1" 拆成 ("eip155", "1")；没有冒号时 reference 为空。
func SplitChain(chain string) (namespace, reference string) {
	namespace, reference, _ = strings.Cut(chain, ":")
	return namespace, reference
}
