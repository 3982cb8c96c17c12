package convert

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirconverter/internal/platform/hl7v2"
)

// BundleSink receives the bundles converted from MLLP traffic.
type BundleSink func(controlID string, bundle map[string]interface{})

// MLLPHandler converts each message received over MLLP and answers it. A
// message that cannot be parsed is rejected with AR, a failed conversion is
// answered with AE carrying the failure, and a converted one with AA.
// rootTemplate, when set, overrides template selection by message type.
// Each message is parsed once; the ACK and the conversion share the tree.
func MLLPHandler(svc *Converter, rootTemplate string, sink BundleSink, logger zerolog.Logger) hl7v2.MessageHandler {
	return func(ctx context.Context, raw string) string {
		msg, err := hl7v2.Parse(raw)
		if err != nil {
			logger.Warn().Err(err).Msg("rejecting unparseable MLLP message")
			return hl7v2.BuildReject(err.Error())
		}

		res, err := svc.Convert(ctx, Request{
			DataType:     HL7v2,
			RootTemplate: rootTemplate,
			Input:        raw,
			Message:      msg,
		})
		if err != nil {
			return hl7v2.BuildACK(msg, hl7v2.AckError, err.Error())
		}

		if sink != nil {
			sink(msg.ControlID(), res.Bundle)
		}
		return hl7v2.BuildACK(msg, hl7v2.AckAccept, "")
	}
}
