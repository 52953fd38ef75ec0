package sso

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
)

const mdNamespace = "urn:oasis:names:tc:SAML:2.0:metadata"

// marshalSPMetadata renders the service provider metadata document for a
// resolved configuration. Every assertion consumer service registration is
// listed so the identity provider can respond over either scheme and either
// binding.
func marshalSPMetadata(cfg *ServiceProviderConfig) ([]byte, error) {
	const op = "sso.marshalSPMetadata"

	if cfg == nil {
		return nil, fmt.Errorf("%s: missing configuration: %w", op, ErrInvalidParameter)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	entity := doc.CreateElement("md:EntityDescriptor")
	entity.CreateAttr("xmlns:md", mdNamespace)
	entity.CreateAttr("entityID", cfg.EntityID)

	spsso := entity.CreateElement("md:SPSSODescriptor")
	spsso.CreateAttr("protocolSupportEnumeration", "urn:oasis:names:tc:SAML:2.0:protocol")
	spsso.CreateAttr("AuthnRequestsSigned", strconv.FormatBool(cfg.SignAuthnRequests))
	spsso.CreateAttr("WantAssertionsSigned", strconv.FormatBool(cfg.WantAssertionsSigned))

	nameID := spsso.CreateElement("md:NameIDFormat")
	nameID.SetText("urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress")

	for i, acs := range cfg.AssertionConsumerServices {
		e := spsso.CreateElement("md:AssertionConsumerService")
		e.CreateAttr("Binding", string(acs.Binding))
		e.CreateAttr("Location", acs.URL)
		e.CreateAttr("index", strconv.Itoa(i+1))
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}
