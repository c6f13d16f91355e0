package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTarget(t *testing.T) {
	cases := []struct {
		domain ContentDomain
		target string
		ok     bool
	}{
		{DomainContent, "", true},
		{DomainContent, "x", false},
		{DomainDesign, "", true},
		{DomainImages, "hero", true},
		{DomainImages, "concept", true},
		{DomainImages, "", false},
		{DomainImages, "gallery", false},
		{DomainProperties, "villa-12", true},
		{DomainProperties, "", false},
		{DomainProperties, "a/b", false},
		{ContentDomain("blog"), "", false},
	}
	for _, c := range cases {
		err := ValidateTarget(c.domain, c.target)
		if c.ok {
			assert.NoError(t, err, "%s/%s", c.domain, c.target)
		} else {
			assert.Error(t, err, "%s/%s", c.domain, c.target)
		}
	}
}

func TestDomainTopics(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range Domains() {
		topic := d.Topic()
		require.NotEmpty(t, topic)
		assert.False(t, seen[topic])
		seen[topic] = true
	}
	assert.Equal(t, "images-updated", DomainImages.Topic())

	_, err := ParseDomain("Properties")
	assert.NoError(t, err)
	_, err = ParseDomain("blog")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestParsePayload_Canonical(t *testing.T) {
	a, err := ParsePayload([]byte(`{ "b": 1, "a": [1, 2, {"z": null, "y": "x"}] }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2,{"y":"x","z":null}],"b":1}`, string(a))

	b, err := ParsePayload([]byte(`{"a":[1,2,{"z":null,"y":"x"}],"b":1}`))
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	_, err = ParsePayload([]byte(`{"a":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParsePayload(nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPayload_LargeIntegersSurvive(t *testing.T) {
	p, err := ParsePayload([]byte(`{"id":9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(p))
}

type listing struct {
	Title  string            `json:"title"`
	Price  int64             `json:"price"`
	Tags   []string          `json:"tags"`
	Rooms  []room            `json:"rooms"`
	Extras map[string]string `json:"extras"`
}

type room struct {
	Name  string  `json:"name"`
	Sizes []int64 `json:"sizes"`
}

// 编码再解码应得到深度相等的值（含嵌套数组与对象）
func TestPayload_RoundTripNested(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(new(v)) deep equals v", prop.ForAll(
		func(title string, price int64, tags []string, sizes []int64) bool {
			if len(tags) == 0 {
				tags = []string{}
			}
			if len(sizes) == 0 {
				sizes = []int64{}
			}
			in := listing{
				Title: title,
				Price: price,
				Tags:  tags,
				Rooms: []room{{Name: "living", Sizes: sizes}, {Name: "", Sizes: []int64{}}},
				Extras: map[string]string{
					"k": title,
				},
			}
			p, err := NewPayload(in)
			if err != nil {
				return false
			}
			var out listing
			if err := p.Decode(&out); err != nil {
				return false
			}
			return assert.ObjectsAreEqual(in, out)
		},
		gen.AlphaString(),
		gen.Int64(),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64()),
	))

	properties.TestingRun(t)
}

func TestPayload_MarshalEmbedsRawJSON(t *testing.T) {
	rec := VersionRecord{Payload: MustPayload(map[string]any{"a": 1})}
	out, err := canonicalJSON.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"payload":{"a":1}`)

	var back VersionRecord
	require.NoError(t, canonicalJSON.Unmarshal(out, &back))
	assert.True(t, back.Payload.Equal(rec.Payload))
}

func TestErrorTaxonomy(t *testing.T) {
	transient := fmt.Errorf("save: %w", NewTransient("insert", errors.New("dial tcp: refused")))
	assert.True(t, IsTransient(transient))
	assert.False(t, IsRejection(transient))

	rejected := &RemoteRejectionError{Op: "insert", Status: 403, Message: "denied"}
	assert.True(t, IsRejection(fmt.Errorf("wrap: %w", rejected)))
	assert.False(t, IsTransient(rejected))

	integrity := &DataIntegrityError{Domain: DomainDesign, Err: ErrInvalidPayload}
	assert.True(t, IsDataIntegrity(integrity))
	assert.ErrorIs(t, integrity, ErrInvalidPayload)

	key := GroupKey{Domain: DomainImages, TargetID: "hero"}
	assert.Equal(t, "images/hero", key.String())
	assert.NoError(t, key.Validate())
}

func TestPayload_Valid(t *testing.T) {
	assert.True(t, Payload(`{"a":[1,{"b":null}]}`).Valid())
	assert.True(t, Payload(`[]`).Valid())
	assert.False(t, Payload(``).Valid())
	assert.False(t, Payload(`{"a":`).Valid())
	assert.False(t, Payload(`{"a":1}}`).Valid())
}

func TestDefaultPayload(t *testing.T) {
	assert.Equal(t, `{"images":[]}`, DefaultPayload(DomainImages).String())
	for _, d := range []ContentDomain{DomainContent, DomainProperties, DomainDesign, ContentDomain("unknown")} {
		assert.Equal(t, `{}`, DefaultPayload(d).String(), d)
	}
	for _, d := range Domains() {
		assert.True(t, DefaultPayload(d).Valid(), d)
	}
}
