package testutil

import (
	"fmt"
	"math"
)

// Wasm value type bytes.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
	F64 byte = 0x7c
)

type funcType struct {
	params  []byte
	results []byte
}

type wasmImport struct {
	module string
	name   string
	typ    uint32
}

type wasmFunc struct {
	export string
	body   []byte
	locals []byte
	typ    uint32
}

// ModuleBuilder assembles small guest modules for end-to-end tests. Function
// bodies may only call imports.
//
//	wasm := testutil.NewModuleBuilder().
//	    Proxy("extism:host/user", "greet", []byte{testutil.I64}, []byte{testutil.I64}).
//	    Build()
type ModuleBuilder struct {
	types       []funcType
	imports     []wasmImport
	funcs       []wasmFunc
	memoryPages uint32
}

// NewModuleBuilder returns a builder for a module that defines and exports a
// one page memory named "memory".
func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{memoryPages: 1}
}

// Memory sets the initial number of memory pages.
func (b *ModuleBuilder) Memory(pages uint32) *ModuleBuilder {
	b.memoryPages = pages
	return b
}

func (b *ModuleBuilder) typeIndex(params, results []byte) uint32 {
	for i, t := range b.types {
		if string(t.params) == string(params) && string(t.results) == string(results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

// Import adds a function import and returns its function index. Import
// indices are stable; defined functions are numbered after all imports.
func (b *ModuleBuilder) Import(module, name string, params, results []byte) uint32 {
	for i, imp := range b.imports {
		if imp.module == module && imp.name == name {
			return uint32(i)
		}
	}
	b.imports = append(b.imports, wasmImport{module: module, name: name, typ: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1)
}

// ImportIndex returns the function index of a previously added import.
func (b *ModuleBuilder) ImportIndex(module, name string) uint32 {
	for i, imp := range b.imports {
		if imp.module == module && imp.name == name {
			return uint32(i)
		}
	}
	panic(fmt.Sprintf("testutil: no import %s.%s", module, name))
}

// Function adds a function with the given body (without the final end) and
// exports it as export when export is non-empty.
func (b *ModuleBuilder) Function(export string, params, results []byte, body ...[]byte) *ModuleBuilder {
	return b.FunctionWithLocals(export, params, results, nil, body...)
}

// FunctionWithLocals is Function with extra locals, one per type byte.
func (b *ModuleBuilder) FunctionWithLocals(export string, params, results, locals []byte, body ...[]byte) *ModuleBuilder {
	var code []byte
	for _, part := range body {
		code = append(code, part...)
	}
	b.funcs = append(b.funcs, wasmFunc{
		export: export,
		typ:    b.typeIndex(params, results),
		locals: locals,
		body:   code,
	})
	return b
}

// Proxy imports module.name and exports a function of the same name and type
// that forwards its parameters to the import and returns its results.
func (b *ModuleBuilder) Proxy(module, name string, params, results []byte) *ModuleBuilder {
	idx := b.Import(module, name, params, results)
	var body []byte
	for i := range params {
		body = append(body, LocalGet(uint32(i))...)
	}
	body = append(body, Call(idx)...)
	return b.Function(name, params, results, body)
}

// Build encodes the module.
func (b *ModuleBuilder) Build() []byte {
	funcs := b.funcs
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		var sec []byte
		sec = append(sec, uleb(uint64(len(b.types)))...)
		for _, t := range b.types {
			sec = append(sec, 0x60)
			sec = append(sec, vec(t.params)...)
			sec = append(sec, vec(t.results)...)
		}
		out = append(out, section(1, sec)...)
	}

	if len(b.imports) > 0 {
		var sec []byte
		sec = append(sec, uleb(uint64(len(b.imports)))...)
		for _, imp := range b.imports {
			sec = append(sec, name(imp.module)...)
			sec = append(sec, name(imp.name)...)
			sec = append(sec, 0x00)
			sec = append(sec, uleb(uint64(imp.typ))...)
		}
		out = append(out, section(2, sec)...)
	}

	if len(funcs) > 0 {
		var sec []byte
		sec = append(sec, uleb(uint64(len(funcs)))...)
		for _, f := range funcs {
			sec = append(sec, uleb(uint64(f.typ))...)
		}
		out = append(out, section(3, sec)...)
	}

	mem := []byte{0x01, 0x00}
	mem = append(mem, uleb(uint64(b.memoryPages))...)
	out = append(out, section(5, mem)...)

	var exports []byte
	count := 1
	exports = append(exports, name("memory")...)
	exports = append(exports, 0x02, 0x00)
	for i, f := range funcs {
		if f.export == "" {
			continue
		}
		count++
		exports = append(exports, name(f.export)...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb(uint64(len(b.imports)+i))...)
	}
	out = append(out, section(7, append(uleb(uint64(count)), exports...))...)

	if len(funcs) > 0 {
		var sec []byte
		sec = append(sec, uleb(uint64(len(funcs)))...)
		for _, f := range funcs {
			var body []byte
			body = append(body, uleb(uint64(len(f.locals)))...)
			for _, l := range f.locals {
				body = append(body, 0x01, l)
			}
			body = append(body, f.body...)
			body = append(body, 0x0b)
			sec = append(sec, uleb(uint64(len(body)))...)
			sec = append(sec, body...)
		}
		out = append(out, section(10, sec)...)
	}
	return out
}

// LocalGet encodes local.get.
func LocalGet(i uint32) []byte {
	return append([]byte{0x20}, uleb(uint64(i))...)
}

// LocalSet encodes local.set.
func LocalSet(i uint32) []byte {
	return append([]byte{0x21}, uleb(uint64(i))...)
}

// Call encodes call.
func Call(funcIndex uint32) []byte {
	return append([]byte{0x10}, uleb(uint64(funcIndex))...)
}

// I32Const encodes i32.const.
func I32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(int64(v))...)
}

// I64Const encodes i64.const.
func I64Const(v int64) []byte {
	return append([]byte{0x42}, sleb(v)...)
}

// F64Const encodes f64.const.
func F64Const(v float64) []byte {
	bits := math.Float64bits(v)
	out := []byte{0x44}
	for i := 0; i < 8; i++ {
		out = append(out, byte(bits>>(8*i)))
	}
	return out
}

// Drop encodes drop.
func Drop() []byte {
	return []byte{0x1a}
}

func section(id byte, contents []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(contents)))...)
	return append(out, contents...)
}

func vec(types []byte) []byte {
	return append(uleb(uint64(len(types))), types...)
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		out = append(out, c)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		out = append(out, c)
		if done {
			return out
		}
	}
}
