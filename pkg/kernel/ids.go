package kernel

type FlowID string

func NewFlowID(id string) FlowID { return FlowID(id) }
func (f FlowID) String() string  { return string(f) }
func (f FlowID) IsEmpty() bool   { return string(f) == "" }

type StepID string

func NewStepID(id string) StepID { return StepID(id) }
func (s StepID) String() string  { return string(s) }
func (s StepID) IsEmpty() bool   { return string(s) == "" }

type TransitionID string

func NewTransitionID(id string) TransitionID { return TransitionID(id) }
func (t TransitionID) String() string        { return string(t) }
func (t TransitionID) IsEmpty() bool         { return string(t) == "" }

type ContactID string

func NewContactID(id string) ContactID { return ContactID(id) }
func (c ContactID) String() string     { return string(c) }
func (c ContactID) IsEmpty() bool      { return string(c) == "" }

type ConversationID string

func NewConversationID(id string) ConversationID { return ConversationID(id) }
func (c ConversationID) String() string          { return string(c) }
func (c ConversationID) IsEmpty() bool           { return string(c) == "" }

type MessageID string

func NewMessageID(id string) MessageID { return MessageID(id) }
func (m MessageID) String() string     { return string(m) }
func (m MessageID) IsEmpty() bool      { return string(m) == "" }

type AssetID string

func NewAssetID(id string) AssetID { return AssetID(id) }
func (a AssetID) String() string   { return string(a) }
func (a AssetID) IsEmpty() bool    { return string(a) == "" }
