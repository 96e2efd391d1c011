package auth

const ConsumeScriptForTest = consumeScript
