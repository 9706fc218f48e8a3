package minitrace

import (
	"encoding/binary"
	"io"

	"github.com/gogo/protobuf/proto"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

const maxBinaryContextLen = 1 << 20

// BinaryPropagator writes a length-prefixed protobuf message to an io.Writer
// and reads it back from an io.Reader.
var BinaryPropagator Propagator = binaryPropagator{}

type binaryPropagator struct{}

func (binaryPropagator) Inject(
	spanContext opentracing.SpanContext,
	opaqueCarrier interface{},
) error {
	sc, ok := injectable(spanContext)
	if !ok {
		return opentracing.ErrInvalidSpanContext
	}
	carrier, ok := opaqueCarrier.(io.Writer)
	if !ok {
		return opentracing.ErrInvalidCarrier
	}

	msg, err := marshalBinaryContext(sc)
	if err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(msg)))
	if _, err := carrier.Write(length[:]); err != nil {
		return err
	}
	_, err = carrier.Write(msg)
	return err
}

func (binaryPropagator) Extract(
	opaqueCarrier interface{},
) (opentracing.SpanContext, error) {
	carrier, ok := opaqueCarrier.(io.Reader)
	if !ok {
		return nil, opentracing.ErrInvalidCarrier
	}

	var length [4]byte
	if _, err := io.ReadFull(carrier, length[:]); err != nil {
		if err == io.EOF {
			return nil, opentracing.ErrSpanContextNotFound
		}
		return nil, errors.Wrap(opentracing.ErrSpanContextCorrupted, err.Error())
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxBinaryContextLen {
		return nil, errors.Wrapf(opentracing.ErrSpanContextCorrupted, "context of %d bytes", n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(carrier, msg); err != nil {
		return nil, errors.Wrap(opentracing.ErrSpanContextCorrupted, err.Error())
	}

	sc, err := unmarshalBinaryContext(msg)
	if err != nil {
		return nil, errors.Wrap(opentracing.ErrSpanContextCorrupted, err.Error())
	}
	if !sc.IsValid() {
		return nil, errors.Wrap(opentracing.ErrSpanContextCorrupted, "missing or zero ids")
	}
	return sc, nil
}

// binaryContext is the message behind the length prefix. Unknown fields are
// skipped on decode. Fields are proto2 so that baggage strings need not be
// valid UTF-8.
type binaryContext struct {
	TraceIDHigh uint64            `protobuf:"fixed64,1,opt,name=trace_id_high"`
	TraceIDLow  uint64            `protobuf:"fixed64,2,opt,name=trace_id_low"`
	SpanID      uint64            `protobuf:"fixed64,3,opt,name=span_id"`
	Sampled     bool              `protobuf:"varint,4,opt,name=sampled"`
	Baggage     map[string]string `protobuf:"bytes,5,rep,name=baggage" protobuf_key:"bytes,1,opt,name=key" protobuf_val:"bytes,2,opt,name=value"`
}

func (m *binaryContext) Reset()         { *m = binaryContext{} }
func (m *binaryContext) String() string { return proto.CompactTextString(m) }
func (*binaryContext) ProtoMessage()    {}

func marshalBinaryContext(sc SpanContext) ([]byte, error) {
	return proto.Marshal(&binaryContext{
		TraceIDHigh: sc.TraceID.High,
		TraceIDLow:  sc.TraceID.Low,
		SpanID:      sc.SpanID,
		Sampled:     sc.Sampled,
		Baggage:     sc.Baggage,
	})
}

func unmarshalBinaryContext(msg []byte) (SpanContext, error) {
	var m binaryContext
	if err := proto.NewBuffer(msg).Unmarshal(&m); err != nil {
		return SpanContext{}, err
	}
	sc := SpanContext{
		TraceID: TraceID{High: m.TraceIDHigh, Low: m.TraceIDLow},
		SpanID:  m.SpanID,
		Sampled: m.Sampled,
	}
	for k, v := range m.Baggage {
		key, ok := normalizeBaggageKey(k)
		if !ok {
			continue
		}
		if sc.Baggage == nil {
			sc.Baggage = make(map[string]string, len(m.Baggage))
		}
		sc.Baggage[key] = v
	}
	return sc, nil
}
