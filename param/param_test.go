package param_test

import (
	"testing"

	"github.com/fynet/fyusenet/param"
	"github.com/fynet/fyusenet/shape"
)

func TestMapProviderRoundTrips(t *testing.T) {
	p := param.NewMapProvider()
	weights := []byte{1, 2, 3, 4}
	p.Set("kernel", 3, 0, weights, shape.F16)

	blob := p.Get("kernel", 3, 0)
	if blob.Empty() {
		t.Fatal("Get: blob should not be empty")
	}
	if string(blob.Bytes()) != string(weights) {
		t.Fatalf("Get bytes: have %v want %v", blob.Bytes(), weights)
	}
	if dt := p.DataType("kernel", 3, 0); dt != shape.F16 {
		t.Fatalf("DataType: have %v want F16", dt)
	}
}

func TestMapProviderMissingTripleIsEmpty(t *testing.T) {
	p := param.NewMapProvider()
	blob := p.Get("bias", 1, 0)
	if !blob.Empty() {
		t.Fatal("Get on unset triple: should be empty")
	}
	if dt := p.DataType("bias", 1, 0); dt != param.DefaultType {
		t.Fatalf("DataType on unset triple: have %v want DefaultType", dt)
	}
}

func TestMapperRunsAgainstCurrentBlob(t *testing.T) {
	p := param.NewMapProvider()
	p.Set("w", 1, 0, []byte{9, 9}, shape.F32)

	var seen []byte
	param.Mapper(p, "w", 1, 0, func(b param.DataBlob) {
		seen = b.Bytes()
	})
	if len(seen) != 2 || seen[0] != 9 {
		t.Fatalf("Mapper: have %v want [9 9]", seen)
	}
}
