package dialog

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURI(t *testing.T, s string) sip.Uri {
	t.Helper()
	var uri sip.Uri
	require.NoError(t, sip.ParseUri(s, &uri))
	return uri
}

func testProfile(t *testing.T) *Profile {
	return &Profile{
		DisplayName:  "Alice",
		PublicURI:    mustURI(t, "sip:+33600000001@ims.example.com"),
		Contact:      mustURI(t, "sip:alice@192.0.2.10:5060"),
		InstanceID:   "urn:gsma:imei:35000000-000000-0",
		ServiceRoute: []sip.Uri{mustURI(t, "sip:pcscf.ims.example.com;lr")},
		UserAgent:    "test-agent",
	}
}

func TestOriginatingPath(t *testing.T) {
	profile := testProfile(t)
	bob := mustURI(t, "sip:+33600000002@ims.example.com")

	p := NewOriginatingPath(profile, bob, bob)

	assert.NotEmpty(t, p.CallID())
	assert.NotEmpty(t, p.LocalTag())
	assert.Empty(t, p.RemoteTag())
	assert.Equal(t, uint32(1), p.CSeq())
	require.Len(t, p.Route(), 1)
	assert.Equal(t, "pcscf.ims.example.com", p.Route()[0].Host)

	// Call-ID не меняется при увеличении CSeq
	callID := p.CallID()
	assert.Equal(t, uint32(2), p.IncrementCSeq())
	assert.Equal(t, uint32(3), p.IncrementCSeq())
	assert.Equal(t, callID, p.CallID())
}

func TestNewRequestHeaders(t *testing.T) {
	profile := testProfile(t)
	bob := mustURI(t, "sip:+33600000002@ims.example.com")
	p := NewOriginatingPath(profile, bob, bob)

	req := p.NewMessage(NewBody("text/plain", []byte("hello")), WithContributionID("abc"))

	assert.Equal(t, sip.MESSAGE, req.Method)
	assert.Equal(t, bob.Host, req.Recipient.Host)
	assert.Equal(t, p.CallID(), req.CallID().Value())
	assert.Equal(t, uint32(1), req.CSeq().SeqNo)
	assert.Equal(t, sip.MESSAGE, req.CSeq().MethodName)

	tag, ok := req.From().Params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, p.LocalTag(), tag)
	_, ok = req.To().Params.Get("tag")
	assert.False(t, ok, "To без тега до установления диалога")

	require.NotNil(t, req.GetHeader("Route"))
	require.NotNil(t, req.GetHeader(HeaderContributionID))
	assert.Equal(t, "abc", req.GetHeader(HeaderContributionID).Value())
	assert.Equal(t, "text/plain", req.ContentType().Value())
	assert.Equal(t, []byte("hello"), req.Body())

	// Повторная отправка после увеличения CSeq
	p.IncrementCSeq()
	req2 := p.NewMessage(NewBody("text/plain", []byte("hello")))
	assert.Equal(t, uint32(2), req2.CSeq().SeqNo)
	assert.Equal(t, req.CallID().Value(), req2.CallID().Value())
}

func TestConfirmUpdatesDialog(t *testing.T) {
	profile := testProfile(t)
	bob := mustURI(t, "sip:+33600000002@ims.example.com")
	p := NewOriginatingPath(profile, bob, bob)

	invite := p.NewInvite(NewBody("application/sdp", []byte("v=0\r\n")))
	assert.Same(t, invite, p.Invite())
	assert.Equal(t, "application/sdp", p.LocalContent().ContentType())

	resp := sip.NewResponseFromRequest(invite, sip.StatusOK, "OK", nil)
	resp.To().Params.Add("tag", "remote-1")
	resp.AppendHeader(&sip.ContactHeader{Address: mustURI(t, "sip:bob@198.51.100.7:5060")})
	resp.AppendHeader(sip.NewHeader("Record-Route", "<sip:p1.example.com;lr>"))
	resp.AppendHeader(sip.NewHeader("Record-Route", "<sip:p2.example.com;lr>"))
	ct := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&ct)
	resp.SetBody([]byte("v=0\r\nanswer"))

	p.Confirm(resp)

	assert.Equal(t, "remote-1", p.RemoteTag())
	assert.Equal(t, "198.51.100.7", p.RemoteTarget().Host)
	route := p.Route()
	require.Len(t, route, 2)
	// Для UAC маршрут в обратном порядке
	assert.Equal(t, "p2.example.com", route[0].Host)
	assert.Equal(t, "p1.example.com", route[1].Host)
	assert.Equal(t, "v=0\r\nanswer", string(p.RemoteContent().Content()))

	p.IncrementCSeq()
	bye := p.NewRequest(sip.BYE)
	assert.Equal(t, "198.51.100.7", bye.Recipient.Host)
	toTag, _ := bye.To().Params.Get("tag")
	assert.Equal(t, "remote-1", toTag)
}

func TestTerminatingPath(t *testing.T) {
	profile := testProfile(t)
	alice := mustURI(t, "sip:+33600000001@ims.example.com")
	bob := mustURI(t, "sip:+33600000002@ims.example.com")

	req := sip.NewRequest(sip.INVITE, alice)
	from := &sip.FromHeader{Address: bob, Params: sip.NewParams()}
	from.Params.Add("tag", "bob-tag")
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: alice, Params: sip.NewParams()})
	callID := sip.CallIDHeader("call-1")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 7, MethodName: sip.INVITE})
	contact := &sip.ContactHeader{Address: mustURI(t, "sip:bob@198.51.100.7"), Params: sip.NewParams()}
	contact.Params.Add("+sip.instance", "\"<urn:gsma:imei:1>\"")
	req.AppendHeader(contact)
	req.AppendHeader(sip.NewHeader(HeaderAssertedID, "<sip:+33600000002@ims.example.com>"))

	p, err := NewTerminatingPath(profile, req)
	require.NoError(t, err)

	assert.Equal(t, "call-1", p.CallID())
	assert.Equal(t, "bob-tag", p.RemoteTag())
	assert.NotEmpty(t, p.LocalTag())
	assert.Equal(t, uint32(7), p.CSeq())
	assert.Equal(t, "198.51.100.7", p.RemoteTarget().Host)
	assert.Same(t, req, p.Invite())

	resp := p.NewResponse(req, sip.StatusOK, "OK", NewBody("application/sdp", []byte("v=0")))
	tag, ok := resp.To().Params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, p.LocalTag(), tag)
	assert.Equal(t, "v=0", string(resp.Body()))

	assert.Equal(t, "+33600000002", AssertedIdentity(req).User)
	assert.Equal(t, "urn:gsma:imei:1", InstanceID(req))
}

func TestAssertedIdentityFallsBackToFrom(t *testing.T) {
	bob := mustURI(t, "sip:+33600000002@ims.example.com")
	req := sip.NewRequest(sip.MESSAGE, mustURI(t, "sip:alice@example.com"))
	assert.Equal(t, "", AssertedIdentity(req).User)

	req.AppendHeader(&sip.FromHeader{Address: bob, Params: sip.NewParams()})
	assert.Equal(t, "sip:+33600000002@ims.example.com", AssertedIdentity(req).String())

	req.AppendHeader(sip.NewHeader(HeaderAssertedID, "\"Bob\" <sip:+33600000009@ims.example.com>"))
	assert.Equal(t, "sip:+33600000009@ims.example.com", AssertedIdentity(req).String())
}

func TestTerminatingPathRejectsIncompleteRequest(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:alice@example.com"))
	_, err := NewTerminatingPath(testProfile(t), req)
	assert.Error(t, err)

	_, err = NewTerminatingPath(testProfile(t), nil)
	assert.Error(t, err)
}

func TestMultipartBody(t *testing.T) {
	b, err := NewMultipartBody("",
		Part{ContentType: "application/sdp", Content: []byte("v=0")},
		Part{ContentType: "application/resource-lists+xml", Disposition: "recipient-list", Content: []byte("<list/>")},
	)
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed;boundary="+DefaultBoundary, b.ContentType())

	parts, err := b.Parts()
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "recipient-list", parts[1].Disposition)

	sdpPart, ok := b.Part("application/sdp")
	require.True(t, ok)
	assert.Equal(t, "v=0", string(sdpPart.Content))

	_, ok = b.Part("message/cpim")
	assert.False(t, ok)

	// Одиночное тело возвращается одной частью
	single := NewBody("text/plain", []byte("x"))
	parts, err = single.Parts()
	require.NoError(t, err)
	require.Len(t, parts, 1)
}
