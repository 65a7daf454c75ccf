package he

import (
	"encoding/base64"
	"encoding/json"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/buildbarn/eyed-registry/pkg/errs"
)

// DecryptTemplateRequest is the wire contract for the admin
// template-detail decrypt-for-display request: the serialized
// ciphertexts for one template's iris and mask scales, base64-encoded
// for JSON transport.
type DecryptTemplateRequest struct {
	IrisCodesB64 []string `json:"iris_codes_b64"`
	MaskCodesB64 []string `json:"mask_codes_b64"`
}

// DecryptTemplateResponse is the key holder's reply: the decoded
// plaintext scales (one flat []int per scale, row-major as produced by
// Array3D.ToBytes), or Error if decryption failed.
type DecryptTemplateResponse struct {
	IrisCodes [][]int `json:"iris_codes,omitempty"`
	MaskCodes [][]int `json:"mask_codes,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// BuildDecryptTemplateRequest serializes and base64-encodes a
// template's ciphertexts for the decrypt-for-display request.
func (c *Context) BuildDecryptTemplateRequest(irisCts, maskCts []*rlwe.Ciphertext) (*DecryptTemplateRequest, error) {
	req := &DecryptTemplateRequest{
		IrisCodesB64: make([]string, len(irisCts)),
		MaskCodesB64: make([]string, len(maskCts)),
	}
	for i, ct := range irisCts {
		data, err := c.Serialize(ct)
		if err != nil {
			return nil, err
		}
		req.IrisCodesB64[i] = base64.StdEncoding.EncodeToString(data)
	}
	for i, ct := range maskCts {
		data, err := c.Serialize(ct)
		if err != nil {
			return nil, err
		}
		req.MaskCodesB64[i] = base64.StdEncoding.EncodeToString(data)
	}
	return req, nil
}

// ParseDecryptTemplateResponse decodes a key holder reply.
func ParseDecryptTemplateResponse(data []byte) (*DecryptTemplateResponse, error) {
	var resp DecryptTemplateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "failed to decode decrypt-template response")
	}
	if resp.Error != "" {
		return nil, errs.New(errs.KindHEInit, "key holder returned error: "+resp.Error)
	}
	return &resp, nil
}
