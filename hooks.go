package samlauth

import "net/http"

// Hooks is the extension point registry. A host application registers
// callbacks during setup; the service invokes them synchronously, in
// registration order, at well-defined points of the authentication flow.
// Transform callbacks receive a value and return the (possibly rewritten)
// value; notification callbacks perform side effects only. Registration is
// not safe for concurrent use with request handling: populate the registry
// before the service starts and do not re-register afterwards.
type Hooks struct {
	beforeProcessResponse []func(*http.Request)
	attributeTransform    []func(Attributes) Attributes
	beforeRegistration    []func(email string, attrs Attributes)
	afterRegistration     []func(*Account, Attributes)
	registrationComplete  []func(*Account, Attributes)
	beforeSetCurrentUser  []func(*Account)
	afterAuthentication   []func(*Account)
	authenticationFailed  []func(email string, attrs Attributes)
	samlError             []func(errs []error, reason string)
	beforeLogout          []func()
	beforeLocalLogout     []func()
	afterLocalLogout      []func()

	registrationEmail    []func(string) string
	registrationUsername []func(string) string
	registrationPassword []func(string) string
	registrationValue    []func(value, field string) string
}

// NewHooks returns an empty registry.
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnBeforeProcessResponse fires before the ACS handler hands the raw
// response to the toolkit.
func (h *Hooks) OnBeforeProcessResponse(fn func(*http.Request)) {
	h.beforeProcessResponse = append(h.beforeProcessResponse, fn)
}

// OnAttributeTransform may rewrite or reject attributes after validation and
// before identity resolution. Returning nil removes all attributes.
func (h *Hooks) OnAttributeTransform(fn func(Attributes) Attributes) {
	h.attributeTransform = append(h.attributeTransform, fn)
}

// OnBeforeRegistration fires before a new account is provisioned.
func (h *Hooks) OnBeforeRegistration(fn func(email string, attrs Attributes)) {
	h.beforeRegistration = append(h.beforeRegistration, fn)
}

// OnAfterRegistration fires once a new account has been provisioned, all
// mapped attributes applied, and the registration-complete point has run.
func (h *Hooks) OnAfterRegistration(fn func(*Account, Attributes)) {
	h.afterRegistration = append(h.afterRegistration, fn)
}

// OnRegistrationComplete fires as the last step of provisioning itself,
// immediately before the after-registration point.
func (h *Hooks) OnRegistrationComplete(fn func(*Account, Attributes)) {
	h.registrationComplete = append(h.registrationComplete, fn)
}

// OnBeforeSetCurrentUser fires immediately before a session is established.
func (h *Hooks) OnBeforeSetCurrentUser(fn func(*Account)) {
	h.beforeSetCurrentUser = append(h.beforeSetCurrentUser, fn)
}

// OnAfterAuthentication fires once a session has been established.
func (h *Hooks) OnAfterAuthentication(fn func(*Account)) {
	h.afterAuthentication = append(h.afterAuthentication, fn)
}

// OnAuthenticationFailed fires when a validated assertion could not be
// resolved to an account.
func (h *Hooks) OnAuthenticationFailed(fn func(email string, attrs Attributes)) {
	h.authenticationFailed = append(h.authenticationFailed, fn)
}

// OnSAMLError fires when the toolkit rejects a message, with the toolkit's
// raw error list and reason.
func (h *Hooks) OnSAMLError(fn func(errs []error, reason string)) {
	h.samlError = append(h.samlError, fn)
}

// OnBeforeLogout fires when single-logout processing starts.
func (h *Hooks) OnBeforeLogout(fn func()) {
	h.beforeLogout = append(h.beforeLogout, fn)
}

// OnBeforeLocalLogout fires immediately before the local session is
// destroyed.
func (h *Hooks) OnBeforeLocalLogout(fn func()) {
	h.beforeLocalLogout = append(h.beforeLocalLogout, fn)
}

// OnAfterLocalLogout fires once the local session has been destroyed.
func (h *Hooks) OnAfterLocalLogout(fn func()) {
	h.afterLocalLogout = append(h.afterLocalLogout, fn)
}

// OnRegistrationEmail may rewrite the email a new account is provisioned
// with.
func (h *Hooks) OnRegistrationEmail(fn func(string) string) {
	h.registrationEmail = append(h.registrationEmail, fn)
}

// OnRegistrationUsername may rewrite the derived username.
func (h *Hooks) OnRegistrationUsername(fn func(string) string) {
	h.registrationUsername = append(h.registrationUsername, fn)
}

// OnRegistrationPassword may replace the generated password.
func (h *Hooks) OnRegistrationPassword(fn func(string) string) {
	h.registrationPassword = append(h.registrationPassword, fn)
}

// OnRegistrationValue may rewrite a mapped attribute value before it is
// stored under the named metadata field.
func (h *Hooks) OnRegistrationValue(fn func(value, field string) string) {
	h.registrationValue = append(h.registrationValue, fn)
}

func (h *Hooks) fireBeforeProcessResponse(r *http.Request) {
	for _, fn := range h.beforeProcessResponse {
		fn(r)
	}
}

func (h *Hooks) transformAttributes(attrs Attributes) Attributes {
	for _, fn := range h.attributeTransform {
		attrs = fn(attrs)
	}
	return attrs
}

func (h *Hooks) fireBeforeRegistration(email string, attrs Attributes) {
	for _, fn := range h.beforeRegistration {
		fn(email, attrs)
	}
}

func (h *Hooks) fireAfterRegistration(acct *Account, attrs Attributes) {
	for _, fn := range h.registrationComplete {
		fn(acct, attrs)
	}
	for _, fn := range h.afterRegistration {
		fn(acct, attrs)
	}
}

func (h *Hooks) fireBeforeSetCurrentUser(acct *Account) {
	for _, fn := range h.beforeSetCurrentUser {
		fn(acct)
	}
}

func (h *Hooks) fireAfterAuthentication(acct *Account) {
	for _, fn := range h.afterAuthentication {
		fn(acct)
	}
}

func (h *Hooks) fireAuthenticationFailed(email string, attrs Attributes) {
	for _, fn := range h.authenticationFailed {
		fn(email, attrs)
	}
}

func (h *Hooks) fireSAMLError(errs []error, reason string) {
	for _, fn := range h.samlError {
		fn(errs, reason)
	}
}

func (h *Hooks) fireBeforeLogout() {
	for _, fn := range h.beforeLogout {
		fn()
	}
}

func (h *Hooks) fireBeforeLocalLogout() {
	for _, fn := range h.beforeLocalLogout {
		fn()
	}
}

func (h *Hooks) fireAfterLocalLogout() {
	for _, fn := range h.afterLocalLogout {
		fn()
	}
}

func (h *Hooks) transformRegistrationEmail(email string) string {
	for _, fn := range h.registrationEmail {
		email = fn(email)
	}
	return email
}

func (h *Hooks) transformRegistrationUsername(username string) string {
	for _, fn := range h.registrationUsername {
		username = fn(username)
	}
	return username
}

func (h *Hooks) transformRegistrationPassword(password string) string {
	for _, fn := range h.registrationPassword {
		password = fn(password)
	}
	return password
}

func (h *Hooks) transformRegistrationValue(value, field string) string {
	for _, fn := range h.registrationValue {
		value = fn(value, field)
	}
	return value
}
