package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
)

func validComponent() ir.Object {
	return ir.Object{
		"type":       ir.String("API"),
		"domain":     ir.String("orders"),
		"module":     ir.String("checkout"),
		"name":       ir.String("PlaceOrder"),
		"repository": ir.String("shop"),
		"filePath":   ir.String("src/api.ts"),
		"lineNumber": ir.Int(12),
		"apiType":    ir.String("REST"),
		"httpMethod": ir.String("POST"),
		"httpPath":   ir.String("/orders"),
	}
}

func TestValidate_ValidComponent(t *testing.T) {
	v := MustNew()
	assert.NoError(t, v.Validate(Components, "orders:checkout:api:placeorder", validComponent()))
}

func TestValidate_ComponentViolations(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(ir.Object)
		field string
	}{
		{"bad http method", func(o ir.Object) { o["httpMethod"] = ir.String("FETCH") }, "httpMethod"},
		{"blank name", func(o ir.Object) { o["name"] = ir.String("  ") }, "name"},
		{"negative line", func(o ir.Object) { o["lineNumber"] = ir.Int(-1) }, "lineNumber"},
		{"unknown field", func(o ir.Object) { o["colour"] = ir.String("red") }, "colour"},
		{"custom without customType", func(o ir.Object) {
			o["type"] = ir.String("Custom")
			delete(o, "apiType")
		}, "customType"},
	}

	v := MustNew()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := validComponent()
			tt.edit(obj)

			err := v.Validate(Components, "c1", obj)
			require.Error(t, err)

			var found bool
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			for _, viol := range ve.Violations {
				assert.True(t, strings.HasPrefix(viol.Path, "/components/c1"), viol.Path)
				if strings.Contains(viol.Path, tt.field) {
					found = true
				}
			}
			assert.True(t, found, "no violation mentions %s: %v", tt.field, ve.Violations)
		})
	}
}

func TestValidate_OtherEntities(t *testing.T) {
	v := MustNew()

	assert.NoError(t, v.Validate(Links, "l1", ir.Object{
		"from": ir.String("a:b:api:x"), "to": ir.String("a:b:usecase:y"),
		"toDomain": ir.String("a"), "toModule": ir.String("b"),
		"toType": ir.String("UseCase"), "toName": ir.String("Y"),
		"linkType": ir.String("sync"),
	}))
	assert.Error(t, v.Validate(Links, "l2", ir.Object{
		"from": ir.String("a:b:api:x"), "linkType": ir.String("sometimes"),
	}))

	assert.NoError(t, v.Validate(ExternalLinks, "e1", ir.Object{
		"from": ir.String("a:b:api:x"), "targetName": ir.String("Stripe"),
		"targetUrl": ir.String("https://api.stripe.com"), "linkType": ir.String("async"),
	}))
	assert.Error(t, v.Validate(ExternalLinks, "e2", ir.Object{
		"from": ir.String("a:b:api:x"), "targetName": ir.String("Legacy"),
		"targetUrl": ir.String("ftp://legacy"), "linkType": ir.String("sync"),
	}))

	assert.NoError(t, v.Validate(Enrichments, "x", ir.Object{
		"id": ir.String("x"), "emits": ir.Array{ir.String("OrderPlaced")},
	}))

	assert.NoError(t, v.Validate(Domains, "orders", ir.Object{
		"name": ir.String("orders"), "systemType": ir.String("domain"),
		"description": ir.String(""), "repositories": ir.Array{ir.String("shop")},
	}))
}

func TestValidate_UnknownEntity(t *testing.T) {
	err := MustNew().Validate(Entity("widgets"), "w", ir.Object{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity")
}

func TestEntityFor(t *testing.T) {
	for kind, want := range map[ingest.Kind]Entity{
		ingest.KindComponent:    Components,
		ingest.KindLink:         Links,
		ingest.KindLinkHTTP:     HTTPLinks,
		ingest.KindLinkExternal: ExternalLinks,
		ingest.KindEnrichment:   Enrichments,
		ingest.KindDomain:       Domains,
	} {
		got, err := EntityFor(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := EntityFor(ingest.KindObservation)
	assert.Error(t, err)
}

func TestPointer_EscapesSegments(t *testing.T) {
	assert.Equal(t, "/components/a~1b~0c/httpMethod", Pointer(Components, "a/b~c", "httpMethod"))
	assert.Equal(t, "/domains/orders", Pointer(Domains, "orders"))
}

func TestFirst(t *testing.T) {
	err := MustNew().Validate(Components, "c1", ir.Object{})
	viol, ok := First(err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(viol.Path, "/components/c1"))

	_, ok = First(assert.AnError)
	assert.False(t, ok)
}
