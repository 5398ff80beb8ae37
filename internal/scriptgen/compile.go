// Package scriptgen compiles a resolved package's phase bodies into a
// single shell script, per spec.md §4.3: shebang, ordered phase
// concatenation, strict template interpolation, and marker-protocol
// helper expansion. Grounded on the teacher's internal/executor context
// builder (a typed evaluation context assembled once per node before
// invoking a handler), with zclconf/go-cty standing in for the typed
// package/dependency values threaded into the template, and
// text/template's Option("missingkey=error") standing in for the
// strict-undefined-variable check the teacher's hcl.EvalContext gets
// for free.
package scriptgen

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/forgegrid/internal/pkgmodel"
)

// DependencyRef is a resolved (name, version) dependency edge, as
// determined by the resolver's dag.Graph for the job being compiled.
type DependencyRef struct {
	Name    string
	Version string
}

// Compile renders pkg's script: the configured shebang, followed by
// every phase named in availablePhases (in that order) that pkg
// defines, each preceded by a banner comment and templated against a
// context exposing this.name, this.version, this.patches,
// this.dependencies.{runtime,build}, this.sources, and env lookups.
// When strict is true (spec.md's default), an undefined env reference
// aborts the compile with a ScriptError of kind UnboundVariable naming
// the variable and the phase it occurred in.
func Compile(pkg *pkgmodel.Package, runtime, build []DependencyRef, availablePhases []string, shebang string, strict bool) (string, error) {
	this := ctyToNative(thisValue(pkg, runtime, build))

	var out bytes.Buffer
	out.WriteString(shebang)
	out.WriteString("\n")
	fmt.Fprintf(&out, "# package %s@%s\n", pkg.Name, pkg.Version)

	for _, phaseName := range availablePhases {
		ph, ok := pkg.Phase(phaseName)
		if !ok {
			continue
		}
		fmt.Fprintf(&out, "\n# ---- phase: %s ----\n", phaseName)

		funcs := template.FuncMap{
			"this":     func() interface{} { return this },
			"env":      envFunc(pkg.Env, strict, phaseName),
			"state":    stateMarker,
			"phase":    phaseMarker,
			"progress": progressMarker,
		}
		tmpl := template.New(phaseName).Funcs(funcs)
		if strict {
			tmpl = tmpl.Option("missingkey=error")
		}
		parsed, err := tmpl.Parse(ph.Script)
		if err != nil {
			return "", fmt.Errorf("scriptgen: parsing phase %q: %w", phaseName, err)
		}
		if err := parsed.Execute(&out, nil); err != nil {
			var scriptErr *ScriptError
			if errors.As(err, &scriptErr) {
				return "", scriptErr
			}
			return "", fmt.Errorf("scriptgen: rendering phase %q: %w", phaseName, err)
		}
		out.WriteString("\n")
	}

	return out.String(), nil
}

func envFunc(env map[string]string, strict bool, phaseName string) func(string) (string, error) {
	return func(name string) (string, error) {
		val, ok := env[name]
		if !ok {
			if strict {
				return "", &ScriptError{Kind: UnboundVariable, Phase: phaseName, Variable: name}
			}
			return "", nil
		}
		return val, nil
	}
}

func stateMarker(args ...string) (string, error) {
	switch len(args) {
	case 1:
		if args[0] != "OK" {
			return "", fmt.Errorf("scriptgen: state: single-argument form only accepts \"OK\", got %q", args[0])
		}
		return "echo '#BUTIDO:STATE:OK'", nil
	case 2:
		return fmt.Sprintf(`echo '#BUTIDO:STATE:%s:"%s"'`, args[0], args[1]), nil
	default:
		return "", fmt.Errorf("scriptgen: state: expected 1 or 2 arguments, got %d", len(args))
	}
}

func phaseMarker(name string) string {
	return fmt.Sprintf("echo '#BUTIDO:PHASE:%s'", name)
}

func progressMarker(n int) string {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return fmt.Sprintf("echo '#BUTIDO:PROGRESS:%d'", n)
}

// thisValue builds the typed cty object backing the template's "this"
// function, mirroring the teacher's habit of assembling a cty.Value
// context before ever touching the template/eval layer.
func thisValue(pkg *pkgmodel.Package, runtime, build []DependencyRef) cty.Value {
	patchVals := make([]cty.Value, len(pkg.Patches))
	for i, p := range pkg.Patches {
		patchVals[i] = cty.StringVal(p.File)
	}

	sourceType := cty.Object(map[string]cty.Type{"key": cty.String, "url": cty.String})
	sourceVals := make([]cty.Value, len(pkg.Sources))
	for i, s := range pkg.Sources {
		sourceVals[i] = cty.ObjectVal(map[string]cty.Value{
			"key": cty.StringVal(s.Key),
			"url": cty.StringVal(s.URL),
		})
	}

	return cty.ObjectVal(map[string]cty.Value{
		"name":    cty.StringVal(pkg.Name),
		"version": cty.StringVal(pkg.Version),
		"patches": stringListVal(patchVals),
		"sources": objListVal(sourceVals, sourceType),
		"dependencies": cty.ObjectVal(map[string]cty.Value{
			"runtime": stringListVal(depRefVals(runtime)),
			"build":   stringListVal(depRefVals(build)),
		}),
	})
}

// depRefVals renders each dependency ref as the "<name>-<version>"
// artifact stem used when uploading that dependency's output into a
// downstream job's /inputs directory.
func depRefVals(refs []DependencyRef) []cty.Value {
	out := make([]cty.Value, len(refs))
	for i, r := range refs {
		out[i] = cty.StringVal(fmt.Sprintf("%s-%s", r.Name, r.Version))
	}
	return out
}

func stringListVal(vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	return cty.ListVal(vals)
}

func objListVal(vals []cty.Value, ty cty.Type) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(ty)
	}
	return cty.ListVal(vals)
}

// ctyToNative converts a cty.Value tree into plain Go values
// (string/bool/float64/[]interface{}/map[string]interface{}) so
// text/template's reflection-based field access can walk it.
func ctyToNative(v cty.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString()
	case ty == cty.Bool:
		return v.True()
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f
	case ty.IsListType(), ty.IsTupleType(), ty.IsSetType():
		out := []interface{}{}
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ctyToNative(ev))
		}
		return out
	case ty.IsObjectType(), ty.IsMapType():
		out := map[string]interface{}{}
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = ctyToNative(ev)
		}
		return out
	default:
		return nil
	}
}
